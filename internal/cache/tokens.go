package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// Prefijos de las keys del TokenCache.
const (
	prefixToken = "tok:"
	prefixCUS   = "cus:"
	prefixCode  = "code:"
	maxEntryTTL = 24 * time.Hour
	minEntryTTL = time.Second
)

// TokenKey es la key del record de un access token (por hash).
func TokenKey(accessTokenHash string) string { return prefixToken + accessTokenHash }

// ClientUserScopeKey es la key compuesta (client, user, scope). Resuelve al
// mismo record que TokenKey: guarda solo el hash del access token.
func ClientUserScopeKey(consumerKey, userKey, scope string) string {
	return fmt.Sprintf("%s%s:%s:%s", prefixCUS, consumerKey, userKey, scope)
}

// CodeKey es la key de un authorization code (por hash).
func CodeKey(codeHash string) string { return prefixCode + codeHash }

// LookupObserver recibe cada lookup (para métricas).
type LookupObserver func(path string, hit bool)

// TokenCache cachea records de tokens y codes sobre un Client.
//
// Contrato de orden: los escritores actualizan el store primero y el cache
// después (Put tras commit, Invalidate tras revocar).
type TokenCache struct {
	c       Client
	maxTTL  time.Duration
	observe LookupObserver
}

// TokenCacheOption configura un TokenCache.
type TokenCacheOption func(*TokenCache)

// WithMaxTTL acota el TTL de cada entrada.
func WithMaxTTL(d time.Duration) TokenCacheOption {
	return func(tc *TokenCache) {
		if d > 0 {
			tc.maxTTL = d
		}
	}
}

// WithLookupObserver registra un observer de hits/misses.
func WithLookupObserver(o LookupObserver) TokenCacheOption {
	return func(tc *TokenCache) { tc.observe = o }
}

// NewTokenCache crea un TokenCache.
func NewTokenCache(c Client, opts ...TokenCacheOption) *TokenCache {
	tc := &TokenCache{c: c, maxTTL: maxEntryTTL}
	for _, o := range opts {
		o(tc)
	}
	return tc
}

func (tc *TokenCache) ttlUntil(exp time.Time) time.Duration {
	ttl := time.Until(exp)
	if ttl > tc.maxTTL {
		ttl = tc.maxTTL
	}
	if ttl < minEntryTTL {
		ttl = minEntryTTL
	}
	return ttl
}

func (tc *TokenCache) seen(path string, hit bool) {
	if tc.observe != nil {
		tc.observe(path, hit)
	}
}

// ─── Access tokens ───

// PutAccessToken cachea rec bajo sus dos keys.
func (tc *TokenCache) PutAccessToken(ctx context.Context, rec *repository.AccessTokenRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	exp := rec.ExpiresAt()
	if rec.HasRefreshToken() && rec.RefreshExpiresAt().After(exp) {
		exp = rec.RefreshExpiresAt()
	}
	ttl := tc.ttlUntil(exp)
	if err := tc.c.Set(ctx, TokenKey(rec.AccessTokenHash), b, ttl); err != nil {
		return err
	}
	cus := ClientUserScopeKey(rec.ConsumerKey, rec.AuthzUser.Key(), rec.ScopeString())
	return tc.c.Set(ctx, cus, []byte(rec.AccessTokenHash), ttl)
}

// GetByToken busca por hash del access token. Retorna ErrNotFound en miss.
func (tc *TokenCache) GetByToken(ctx context.Context, accessTokenHash string) (*repository.AccessTokenRecord, error) {
	b, err := tc.c.Get(ctx, TokenKey(accessTokenHash))
	if err != nil {
		if IsNotFound(err) {
			tc.seen("token", false)
		}
		return nil, err
	}
	var rec repository.AccessTokenRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		// entrada corrupta: se descarta
		_ = tc.c.Delete(ctx, TokenKey(accessTokenHash))
		tc.seen("token", false)
		return nil, ErrNotFound
	}
	tc.seen("token", true)
	return &rec, nil
}

// GetByClientUserScope resuelve la key compuesta al record del token.
func (tc *TokenCache) GetByClientUserScope(ctx context.Context, consumerKey, userKey, scope string) (*repository.AccessTokenRecord, error) {
	h, err := tc.c.Get(ctx, ClientUserScopeKey(consumerKey, userKey, scope))
	if err != nil {
		if IsNotFound(err) {
			tc.seen("client_user_scope", false)
		}
		return nil, err
	}
	rec, err := tc.GetByToken(ctx, string(h))
	if errors.Is(err, ErrNotFound) {
		tc.seen("client_user_scope", false)
		return nil, err
	}
	if err == nil {
		tc.seen("client_user_scope", true)
	}
	return rec, err
}

// Invalidate borra todas las keys derivadas de rec.
func (tc *TokenCache) Invalidate(ctx context.Context, rec *repository.AccessTokenRecord) error {
	keys := []string{ClientUserScopeKey(rec.ConsumerKey, rec.AuthzUser.Key(), rec.ScopeString())}
	if rec.AccessTokenHash != "" {
		keys = append(keys, TokenKey(rec.AccessTokenHash))
	}
	return tc.c.Delete(ctx, keys...)
}

// InvalidateToken borra el record de un token por hash.
func (tc *TokenCache) InvalidateToken(ctx context.Context, accessTokenHash string) error {
	return tc.c.Delete(ctx, TokenKey(accessTokenHash))
}

// ─── Authorization codes ───

// PutAuthzCode cachea un code hasta su expiración.
func (tc *TokenCache) PutAuthzCode(ctx context.Context, rec *repository.AuthzCodeRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tc.c.Set(ctx, CodeKey(rec.CodeHash), b, tc.ttlUntil(rec.ExpiresAt()))
}

// GetAuthzCode busca un code por hash. Retorna ErrNotFound en miss.
func (tc *TokenCache) GetAuthzCode(ctx context.Context, codeHash string) (*repository.AuthzCodeRecord, error) {
	b, err := tc.c.Get(ctx, CodeKey(codeHash))
	if err != nil {
		return nil, err
	}
	var rec repository.AuthzCodeRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// DeleteAuthzCode borra un code del cache.
func (tc *TokenCache) DeleteAuthzCode(ctx context.Context, codeHash string) error {
	return tc.c.Delete(ctx, CodeKey(codeHash))
}
