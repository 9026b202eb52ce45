package oauth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	tokens "github.com/dropDatabas3/tokencore/internal/security/token"
)

// minter genera valores, los persiste en el store y refleja en el cache.
// Orden: store primero, cache después y solo si el store confirmó.
type minter struct {
	store repository.TokenStore
	cache *cache.TokenCache // nil = cache deshabilitado
	gen   tokens.ValueGenerator
	proc  tokens.PersistenceProcessor
	now   func() time.Time
}

// tokenValue es un valor recién generado en sus tres formas.
type tokenValue struct {
	Raw    string // lo que recibe el cliente
	Hash   string // clave de lookup
	Stored string // forma persistida (processor)
}

func (m *minter) newValue() (tokenValue, error) {
	raw, err := m.gen.GenerateValue()
	if err != nil {
		return tokenValue{}, err
	}
	stored, err := m.proc.ProcessedToken(raw)
	if err != nil {
		return tokenValue{}, err
	}
	return tokenValue{Raw: raw, Hash: tokens.Hash(raw), Stored: stored}, nil
}

// reveal recupera el valor crudo de un token persistido. ok=false si el
// processor es irreversible.
func (m *minter) reveal(stored string) (string, bool) {
	if stored == "" {
		return "", false
	}
	raw, err := m.proc.PreprocessedToken(stored)
	if err != nil {
		return "", false
	}
	return raw, true
}

func (m *minter) cachePut(ctx context.Context, rec *repository.AccessTokenRecord, log *zap.Logger) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PutAccessToken(ctx, rec); err != nil {
		log.Warn("token cache write failed", logger.TokenID(rec.TokenID), logger.Err(err))
	}
}

func (m *minter) cacheInvalidate(ctx context.Context, rec *repository.AccessTokenRecord, log *zap.Logger) {
	if m.cache == nil || rec == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, rec); err != nil {
		log.Warn("token cache invalidation failed", logger.TokenID(rec.TokenID), logger.Err(err))
	}
}

// expiredAt reporta si un token emitido en issuedAt con validez validity ya
// expiró, tolerando skew.
func expiredAt(issuedAt time.Time, validity time.Duration, now time.Time, skew time.Duration) bool {
	return !now.Add(-skew).Before(issuedAt.Add(validity))
}

// issuedInFuture reporta si issuedAt está más allá de now + skew.
func issuedInFuture(issuedAt, now time.Time, skew time.Duration) bool {
	return issuedAt.After(now.Add(skew))
}

func hasScope(scopes []string, s string) bool {
	for _, v := range scopes {
		if v == s {
			return true
		}
	}
	return false
}
