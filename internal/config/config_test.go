package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	o := c.OAuth
	assert.Equal(t, 300*time.Second, o.AuthorizationCodeValidity())
	assert.Equal(t, 3600*time.Second, o.UserAccessTokenValidity())
	assert.Equal(t, 3600*time.Second, o.ApplicationAccessTokenValidity())
	assert.Equal(t, 84600*time.Second, o.RefreshTokenValidity())
	assert.Equal(t, 300*time.Second, o.TimestampSkew())
	assert.False(t, o.CacheEnabled)
	assert.True(t, o.RenewRefreshToken)
	assert.Len(t, o.GrantTypes, 5)
	assert.Len(t, o.ResponseTypes, 4)
	assert.True(t, o.PKCE.Enabled)
	assert.True(t, o.PostHookFailureReported())
	assert.Equal(t, "RS256", c.OIDC.SignatureAlgorithm)
	assert.Equal(t, time.Hour, c.OIDC.IDTokenExpiry())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	p := writeYAML(t, `
oauth:
  validity:
    user_access_token_seconds: 900
  cache_enabled: true
  renew_refresh_token: false
  revocation:
    post_hook_failure: ignore
oidc:
  signature_algorithm: EdDSA
  default_authenticators:
    OpenIDConnect:
      IdPEntityId: https://idp.example/oauth2/token
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, c.OAuth.UserAccessTokenValidity())
	// no tocados → defaults
	assert.Equal(t, 300*time.Second, c.OAuth.AuthorizationCodeValidity())
	assert.True(t, c.OAuth.CacheEnabled)
	assert.False(t, c.OAuth.RenewRefreshToken)
	assert.False(t, c.OAuth.PostHookFailureReported())
	assert.Equal(t, "EdDSA", c.OIDC.SignatureAlgorithm)
	assert.Equal(t, "https://idp.example/oauth2/token", c.OIDC.DefaultAuthenticators["OpenIDConnect"]["IdPEntityId"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OAUTH_REFRESH_TOKEN_VALIDITY_SECONDS", "60")
	t.Setenv("OAUTH_CACHE_ENABLED", "true")
	t.Setenv("OAUTH_GRANT_TYPES", "client_credentials, refresh_token")
	t.Setenv("OIDC_DEFAULT_ISSUER", "https://env.example")
	t.Setenv("CACHE_KIND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.OAuth.RefreshTokenValidity())
	assert.True(t, c.OAuth.CacheEnabled)
	assert.Equal(t, []string{"client_credentials", "refresh_token"}, c.OAuth.GrantTypes)
	assert.Equal(t, "https://env.example", c.OIDC.DefaultAuthenticators["OpenIDConnect"]["IdPEntityId"])
	assert.Equal(t, "redis", c.Cache.Kind)
}

func TestValidate_Errors(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown processor":     func(c *Config) { c.OAuth.PersistenceProcessor = "rot13" },
		"unknown alg":           func(c *Config) { c.OIDC.SignatureAlgorithm = "HS256" },
		"zero code validity":    func(c *Config) { c.OAuth.Validity.AuthorizationCodeSeconds = 0 },
		"postgres without dsn":  func(c *Config) { c.Storage.Driver = "postgres" },
		"redis without addr":    func(c *Config) { c.Cache.Kind = "redis" },
		"encrypted without key": func(c *Config) { c.OAuth.PersistenceProcessor = "encrypted" },
		"bad post hook policy":  func(c *Config) { c.OAuth.Revocation.PostHookFailure = "panic" },
		"none alg in prod": func(c *Config) {
			c.App.Env = "prod"
			c.OIDC.SignatureAlgorithm = "none"
		},
		"bad ttl": func(c *Config) { c.Directory.ClientCacheTTL = "soon" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
