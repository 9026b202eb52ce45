// Package app arma el core a partir de la configuración: store, cache,
// directorio, claves y el oauth.Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/directory"
	"github.com/dropDatabas3/tokencore/internal/directory/fs"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/oauth"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/store/memory"
	"github.com/dropDatabas3/tokencore/internal/store/pg"
)

// Container agrupa las dependencias construidas.
type Container struct {
	Config    *config.Config
	Store     repository.TokenStore
	Cache     cache.Client // nil si oauth.cache_enabled=false
	Tokens    *cache.TokenCache
	Directory *fs.Directory
	Keys      *jwt.StaticResolver
	Service   *oauth.Service

	closers []func()
}

// Options ajusta Build (tests y CLI).
type Options struct {
	// Registerer para métricas; nil usa prometheus.DefaultRegisterer si
	// metrics.enabled.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Build construye el Container. En error libera lo que ya se abrió.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Container, err error) {
	log := logger.From(ctx).With(logger.Component("app"))
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.closers = append(c.closers, closeStore)

	if cfg.OAuth.CacheEnabled {
		cl, err := OpenCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Cache = cl
		c.closers = append(c.closers, func() { _ = cl.Close() })
		c.Tokens = cache.NewTokenCache(cl, cache.WithLookupObserver(metrics.ObserveCacheLookup))
	}

	c.Directory = fs.New(cfg.Directory.Root)
	var clients repository.ClientDirectory = c.Directory
	if ttl := parseDuration(cfg.Directory.ClientCacheTTL, time.Minute); ttl > 0 {
		clients = directory.NewCachedClients(c.Directory, ttl)
	}

	c.Keys, err = LoadKeys(cfg, cfg.OIDC.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	box, err := openBox(cfg)
	if err != nil {
		return nil, err
	}

	var interceptor oauth.EventInterceptor
	if cfg.OAuth.Events.Enabled {
		interceptor = oauth.LoggingInterceptor{Log: logger.L().Named("revocation")}
	}

	c.Service, err = oauth.New(oauth.Deps{
		OAuth:        cfg.OAuth,
		OIDC:         cfg.OIDC,
		Store:        c.Store,
		Cache:        c.Tokens,
		Clients:      clients,
		Identity:     c.Directory,
		Applications: c.Directory,
		Users:        c.Directory,
		Claims:       c.Directory,
		Keys:         c.Keys,
		Box:          box,
		Interceptor:  interceptor,
		Now:          opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: %w", err)
	}

	log.Info("tokencore ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.Bool("cache", cfg.OAuth.CacheEnabled),
		logger.String("processor", cfg.OAuth.PersistenceProcessor),
		logger.Any("grant_types", c.Service.GrantTypes()),
	)
	return c, nil
}

// Close libera los recursos en orden inverso.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// EncryptedPrefix marca valores de config cifrados con la master key.
const EncryptedPrefix = "enc:"

// OpenStore abre el TokenStore configurado.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.TokenStore, func(), error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		dsn, err := decryptValue(cfg, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: dsn: %w", err)
		}
		s, err := pg.Connect(ctx, dsn, pg.Config{
			MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
}

// OpenCache abre el backend de cache configurado.
func OpenCache(ctx context.Context, cfg *config.Config) (cache.Client, error) {
	return cache.New(ctx, cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: parseDuration(cfg.Cache.Memory.DefaultTTL, 5*time.Minute),
	})
}

// LoadKeys carga la clave de firma por defecto desde PEM o genera una
// efímera si no hay path configurado.
func LoadKeys(cfg *config.Config, alg string) (*jwt.StaticResolver, error) {
	if jwt.NormalizeAlg(alg) == jwt.AlgNone {
		return jwt.NewStaticResolver(nil), nil
	}
	kid := cfg.Keys.KID
	if path := strings.TrimSpace(cfg.Keys.SigningKeyPath); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("keys: read %s: %w", path, err)
		}
		ks, err := jwt.ParseKeySetPEM(b, alg, kid)
		if err != nil {
			return nil, fmt.Errorf("keys: %w", err)
		}
		return jwt.NewStaticResolver(ks), nil
	}
	logger.L().Warn("no signing key configured, using an ephemeral key", logger.String("alg", alg))
	ks, err := jwt.GenerateKeySet(alg, kid)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return jwt.NewStaticResolver(ks), nil
}

// decryptValue descifra v si viene con EncryptedPrefix.
func decryptValue(cfg *config.Config, v string) (string, error) {
	if !strings.HasPrefix(v, EncryptedPrefix) {
		return v, nil
	}
	box, err := openBox(cfg)
	if err != nil {
		return "", err
	}
	if box == nil {
		return "", secretbox.ErrKeyMissing
	}
	return box.Decrypt(strings.TrimPrefix(v, EncryptedPrefix))
}

func openBox(cfg *config.Config) (*secretbox.Box, error) {
	if k := strings.TrimSpace(cfg.Security.SecretBoxMasterKey); k != "" {
		return secretbox.NewFromString(k)
	}
	box, err := secretbox.FromEnv()
	switch {
	case err == nil:
		return box, nil
	case errors.Is(err, secretbox.ErrKeyMissing):
		// solo el processor "encrypted" lo necesita; oauth.New lo reporta
		return nil, nil
	default:
		return nil, err
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.L().Warn("invalid duration, using default", logger.String("value", s), zap.Duration("default", def))
		return def
	}
	return d
}
