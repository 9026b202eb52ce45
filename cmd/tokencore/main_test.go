package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/directory/fs"
	"github.com/dropDatabas3/tokencore/internal/oauth"
)

func TestSplitScopes(t *testing.T) {
	assert.Equal(t, []string{"openid", "read", "write"}, splitScopes("openid, read write"))
	assert.Empty(t, splitScopes(""))
}

func TestTokenJSON(t *testing.T) {
	out := tokenJSON(&oauth.TokenResponse{
		AccessToken: "at", TokenType: oauth.TokenTypeBearer, ExpiresIn: 3600,
		Scopes: []string{"openid", "read"}, IDToken: "idt",
	})
	assert.Equal(t, "at", out["access_token"])
	assert.Equal(t, "openid read", out["scope"])
	assert.Equal(t, "idt", out["id_token"])
	assert.NotContains(t, out, "refresh_token")

	out = tokenJSON(&oauth.TokenResponse{Error: true, ErrorCode: oauth.CodeInvalidClient, ErrorMsg: oauth.MsgInvalidClient})
	assert.Equal(t, oauth.CodeInvalidClient, out["error"])
	assert.NotContains(t, out, "access_token")
}

func TestRevocationJSON(t *testing.T) {
	out := revocationJSON(&oauth.RevocationResponse{Revoked: true, Headers: map[string]string{oauth.HeaderAuthorizedUser: "alice"}})
	assert.Equal(t, true, out["revoked"])
	assert.Contains(t, out, "headers")
}

func dirGlobals(t *testing.T) *globals {
	t.Helper()
	cfg := config.Default()
	cfg.Directory.Root = t.TempDir()
	return &globals{cfg: &cfg}
}

func TestClientRegister(t *testing.T) {
	g := dirGlobals(t)
	cmd := clientCmd(g)
	cmd.SetArgs([]string{"register", "--client", "web", "--secret", "s3cret",
		"--grant-types", "authorization_code,refresh_token", "--redirect-uri", "https://app.example.com/cb",
		"--audiences", "api-a api-b"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	app, err := fs.New(g.cfg.Directory.Root).GetApplication(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, fs.DefaultTenant, app.TenantDomain)
	assert.Equal(t, "authorization_code refresh_token", app.GrantTypes)
	assert.Equal(t, []string{"api-a", "api-b"}, app.Audiences)
	assert.NotEqual(t, "s3cret", app.ConsumerSecret)
	assert.True(t, oauth.AuthenticateClient(app, "s3cret"))
	assert.False(t, oauth.AuthenticateClient(app, "other"))
}

func TestClientRegister_ConfidentialNeedsSecret(t *testing.T) {
	g := dirGlobals(t)
	cmd := clientCmd(g)
	cmd.SetArgs([]string{"register", "--client", "web"})
	require.Error(t, cmd.ExecuteContext(context.Background()))

	_, err := fs.New(g.cfg.Directory.Root).GetApplication(context.Background(), "web")
	assert.Error(t, err)

	cmd = clientCmd(g)
	cmd.SetArgs([]string{"register", "--client", "spa", "--public"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	app, err := fs.New(g.cfg.Directory.Root).GetApplication(context.Background(), "spa")
	require.NoError(t, err)
	assert.True(t, app.Public)
	assert.Empty(t, app.ConsumerSecret)
}

func TestUserRegister(t *testing.T) {
	g := dirGlobals(t)
	cmd := userCmd(g)
	cmd.SetArgs([]string{"register", "--username", "alice", "--password", "pw-1",
		"--claim", "email=alice@example.com", "--claim", "given_name=Alice"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	dir := fs.New(g.cfg.Directory.Root)
	u, err := dir.Authenticate(context.Background(), "", "alice", "pw-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Subject)
	claims, err := dir.GetUserClaims(context.Background(), *u)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims["email"])

	_, err = dir.Authenticate(context.Background(), "", "alice", "wrong")
	assert.Error(t, err)
}

func TestParseClaims(t *testing.T) {
	m, err := parseClaims([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "x=y"}, m)

	m, err = parseClaims(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = parseClaims([]string{"novalue"})
	assert.Error(t, err)
}
