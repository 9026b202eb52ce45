// Package config carga la configuración del core desde YAML + variables de entorno.
//
// Load devuelve un valor inmutable; los componentes reciben la sección que
// necesitan (ej: config.OAuth) por constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Grant types y response types por defecto.
const (
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantImplicit          = "implicit"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env" validate:"omitempty,oneof=dev staging prod"`
	} `yaml:"app"`

	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	} `yaml:"log"`

	Storage struct {
		Driver   string `yaml:"driver" validate:"oneof=memory postgres"`
		DSN      string `yaml:"dsn" validate:"required_if=Driver postgres"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns" validate:"gte=0"`
			MaxIdleConns int `yaml:"max_idle_conns" validate:"gte=0"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind" validate:"oneof=memory redis"`
		Redis struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db" validate:"gte=0"`
			Password string `yaml:"password"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Directory struct {
		// Root del directorio YAML (tenants/<tenant>/{clients,users,idp}.yaml)
		Root string `yaml:"root"`
		// TTL del cache de lookups de clientes. "0" deshabilita.
		ClientCacheTTL string `yaml:"client_cache_ttl"`
	} `yaml:"directory"`

	Keys struct {
		// PEM de la clave de firma por defecto. Si está vacío se genera una efímera.
		SigningKeyPath string `yaml:"signing_key_path"`
		KID            string `yaml:"kid"`
	} `yaml:"keys"`

	Security struct {
		SecretBoxMasterKey string `yaml:"secretbox_master_key"` // base64(32 bytes)
	} `yaml:"security"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	OAuth OAuth `yaml:"oauth"`
	OIDC  OIDC  `yaml:"oidc"`
}

// OAuth es la configuración del core de emisión/revocación.
type OAuth struct {
	Validity struct {
		AuthorizationCodeSeconds      int64 `yaml:"authorization_code_seconds" validate:"gt=0"`
		UserAccessTokenSeconds        int64 `yaml:"user_access_token_seconds" validate:"gt=0"`
		ApplicationAccessTokenSeconds int64 `yaml:"application_access_token_seconds" validate:"gt=0"`
		RefreshTokenSeconds           int64 `yaml:"refresh_token_seconds" validate:"gt=0"`
	} `yaml:"validity"`

	TimestampSkewSeconds int64 `yaml:"timestamp_skew_seconds" validate:"gte=0"`

	CacheEnabled      bool `yaml:"cache_enabled"`
	RenewRefreshToken bool `yaml:"renew_refresh_token"`
	ReuseActiveTokens bool `yaml:"reuse_active_tokens"`

	GrantTypes    []string `yaml:"grant_types" validate:"min=1,dive,required"`
	ResponseTypes []string `yaml:"response_types" validate:"min=1,dive,required"`

	PKCE struct {
		Enabled    bool `yaml:"enabled"`
		AllowPlain bool `yaml:"allow_plain"`
	} `yaml:"pkce"`

	TokenGenerator       string `yaml:"token_generator" validate:"oneof=opaque uuid ksuid"`
	PersistenceProcessor string `yaml:"persistence_processor" validate:"oneof=plain encrypted hashing"`

	Revocation struct {
		ResponseHeaders bool `yaml:"response_headers"`
		// report | ignore
		PostHookFailure string `yaml:"post_hook_failure" validate:"oneof=report ignore"`
	} `yaml:"revocation"`

	Events struct {
		// Habilita el interceptor de eventos de revocación (logging).
		Enabled bool `yaml:"enabled"`
	} `yaml:"events"`
}

// OIDC configura el ID token builder.
type OIDC struct {
	SignatureAlgorithm   string `yaml:"signature_algorithm" validate:"oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA none"`
	IDTokenExpirySeconds int64  `yaml:"id_token_expiry_seconds" validate:"gt=0"`
	// DefaultAuthenticators es el fallback por nombre de authenticator
	// (ej: OpenIDConnect → IdPEntityId) cuando el IdP residente no lo define.
	DefaultAuthenticators map[string]map[string]string `yaml:"default_authenticators"`
	// ClaimsCallback: "scope" (libera claims de usuario por scope) | "none".
	ClaimsCallback string `yaml:"claims_callback" validate:"oneof=scope none"`
}

// ─── Durations ───

func (o OAuth) AuthorizationCodeValidity() time.Duration {
	return secs(o.Validity.AuthorizationCodeSeconds)
}
func (o OAuth) UserAccessTokenValidity() time.Duration {
	return secs(o.Validity.UserAccessTokenSeconds)
}
func (o OAuth) ApplicationAccessTokenValidity() time.Duration {
	return secs(o.Validity.ApplicationAccessTokenSeconds)
}
func (o OAuth) RefreshTokenValidity() time.Duration { return secs(o.Validity.RefreshTokenSeconds) }
func (o OAuth) TimestampSkew() time.Duration        { return secs(o.TimestampSkewSeconds) }
func (o OIDC) IDTokenExpiry() time.Duration         { return secs(o.IDTokenExpirySeconds) }

func secs(n int64) time.Duration { return time.Duration(n) * time.Second }

// PostHookFailureReported reporta si un fallo del post-hook de revocación
// debe devolverse como error en la respuesta.
func (o OAuth) PostHookFailureReported() bool {
	return !strings.EqualFold(o.Revocation.PostHookFailure, "ignore")
}

// ─── Load ───

// Default devuelve la configuración por defecto.
func Default() Config {
	var c Config
	c.App.Env = "dev"
	c.Log.Env = "dev"
	c.Log.Level = "info"
	c.Storage.Driver = "memory"
	c.Cache.Kind = "memory"
	c.Cache.Memory.DefaultTTL = "5m"
	c.Cache.Redis.Prefix = "tokencore"
	c.Directory.ClientCacheTTL = "1m"
	c.Keys.KID = "default"

	o := &c.OAuth
	o.Validity.AuthorizationCodeSeconds = 300
	o.Validity.UserAccessTokenSeconds = 3600
	o.Validity.ApplicationAccessTokenSeconds = 3600
	o.Validity.RefreshTokenSeconds = 84600
	o.TimestampSkewSeconds = 300
	o.CacheEnabled = false
	o.RenewRefreshToken = true
	o.GrantTypes = []string{GrantPassword, GrantClientCredentials, GrantAuthorizationCode, GrantRefreshToken, GrantJWTBearer}
	o.ResponseTypes = []string{"code", "token", "id_token", "id_token token"}
	o.PKCE.Enabled = true
	o.TokenGenerator = "opaque"
	o.PersistenceProcessor = "plain"
	o.Revocation.ResponseHeaders = true
	o.Revocation.PostHookFailure = "report"

	c.OIDC.SignatureAlgorithm = "RS256"
	c.OIDC.IDTokenExpirySeconds = 3600
	c.OIDC.ClaimsCallback = "scope"
	c.OIDC.DefaultAuthenticators = map[string]map[string]string{}
	return c
}

// Load lee el YAML en path sobre los defaults, aplica overrides por env y valida.
// path vacío usa solo defaults + env.
func Load(path string) (*Config, error) {
	c := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate chequea tags y reglas semánticas que cruzan secciones.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return errors.New("config: cache.redis.addr is required when cache.kind=redis")
	}
	if c.OAuth.PersistenceProcessor == "encrypted" && strings.TrimSpace(c.Security.SecretBoxMasterKey) == "" {
		return errors.New("config: security.secretbox_master_key is required for the encrypted persistence processor")
	}
	for _, d := range []string{c.Cache.Memory.DefaultTTL, c.Directory.ClientCacheTTL} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	// Guardia dura: en prod no se firma con alg=none.
	if strings.EqualFold(c.App.Env, "prod") && c.OIDC.SignatureAlgorithm == "none" {
		return errors.New("config: oidc.signature_algorithm=none is not allowed in prod")
	}
	return nil
}

// ─── env overrides ───

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvInt64(key string) (int64, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func (c *Config) applyEnvOverrides() {
	// App / log
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_ENV"); ok {
		c.Log.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// Storage
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}

	// Cache
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	// Directory / keys / security
	if v, ok := getEnvStr("DIRECTORY_ROOT"); ok {
		c.Directory.Root = v
	}
	if v, ok := getEnvStr("DIRECTORY_CLIENT_CACHE_TTL"); ok {
		c.Directory.ClientCacheTTL = v
	}
	if v, ok := getEnvStr("SIGNING_KEY_PATH"); ok {
		c.Keys.SigningKeyPath = v
	}
	if v, ok := getEnvStr("SIGNING_KEY_ID"); ok {
		c.Keys.KID = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}

	// OAuth
	o := &c.OAuth
	if v, ok := getEnvInt64("OAUTH_CODE_VALIDITY_SECONDS"); ok {
		o.Validity.AuthorizationCodeSeconds = v
	}
	if v, ok := getEnvInt64("OAUTH_USER_TOKEN_VALIDITY_SECONDS"); ok {
		o.Validity.UserAccessTokenSeconds = v
	}
	if v, ok := getEnvInt64("OAUTH_APP_TOKEN_VALIDITY_SECONDS"); ok {
		o.Validity.ApplicationAccessTokenSeconds = v
	}
	if v, ok := getEnvInt64("OAUTH_REFRESH_TOKEN_VALIDITY_SECONDS"); ok {
		o.Validity.RefreshTokenSeconds = v
	}
	if v, ok := getEnvInt64("OAUTH_TIMESTAMP_SKEW_SECONDS"); ok {
		o.TimestampSkewSeconds = v
	}
	if v, ok := getEnvBool("OAUTH_CACHE_ENABLED"); ok {
		o.CacheEnabled = v
	}
	if v, ok := getEnvBool("OAUTH_RENEW_REFRESH_TOKEN"); ok {
		o.RenewRefreshToken = v
	}
	if v, ok := getEnvBool("OAUTH_REUSE_ACTIVE_TOKENS"); ok {
		o.ReuseActiveTokens = v
	}
	if v, ok := getEnvCSV("OAUTH_GRANT_TYPES"); ok {
		o.GrantTypes = v
	}
	if v, ok := getEnvBool("OAUTH_PKCE_ENABLED"); ok {
		o.PKCE.Enabled = v
	}
	if v, ok := getEnvBool("OAUTH_PKCE_ALLOW_PLAIN"); ok {
		o.PKCE.AllowPlain = v
	}
	if v, ok := getEnvStr("OAUTH_TOKEN_GENERATOR"); ok {
		o.TokenGenerator = v
	}
	if v, ok := getEnvStr("OAUTH_PERSISTENCE_PROCESSOR"); ok {
		o.PersistenceProcessor = v
	}
	if v, ok := getEnvBool("OAUTH_REVOKE_RESPONSE_HEADERS"); ok {
		o.Revocation.ResponseHeaders = v
	}
	if v, ok := getEnvStr("OAUTH_REVOKE_POST_HOOK_FAILURE"); ok {
		o.Revocation.PostHookFailure = v
	}
	if v, ok := getEnvBool("OAUTH_EVENTS_ENABLED"); ok {
		o.Events.Enabled = v
	}

	// OIDC
	if v, ok := getEnvStr("OIDC_SIGNATURE_ALGORITHM"); ok {
		c.OIDC.SignatureAlgorithm = v
	}
	if v, ok := getEnvInt64("OIDC_ID_TOKEN_EXPIRY_SECONDS"); ok {
		c.OIDC.IDTokenExpirySeconds = v
	}
	if v, ok := getEnvStr("OIDC_DEFAULT_ISSUER"); ok {
		if c.OIDC.DefaultAuthenticators == nil {
			c.OIDC.DefaultAuthenticators = map[string]map[string]string{}
		}
		if c.OIDC.DefaultAuthenticators["OpenIDConnect"] == nil {
			c.OIDC.DefaultAuthenticators["OpenIDConnect"] = map[string]string{}
		}
		c.OIDC.DefaultAuthenticators["OpenIDConnect"]["IdPEntityId"] = v
	}
}
