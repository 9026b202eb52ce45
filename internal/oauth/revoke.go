package oauth

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	tokens "github.com/dropDatabas3/tokencore/internal/security/token"
)

// Token type hints (RFC 7009).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Headers de la respuesta de revocación.
const (
	HeaderRevokedAccessToken  = "RevokedAccessToken"
	HeaderAuthorizedUser      = "AuthorizedUser"
	HeaderRevokedRefreshToken = "RevokedRefreshToken"
)

// RevocationRequest es un pedido de revocación de un cliente.
type RevocationRequest struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenTypeHint  string
}

// RevocationResponse es el resultado de una revocación.
type RevocationResponse struct {
	Error     bool
	ErrorCode ErrorCode
	ErrorMsg  string
	// Committed indica que el cambio de estado ya se persistió, aun si
	// Error está seteado (fallo del post-hook).
	Committed bool
	// Revoked es false en los no-op (token desconocido o ya inactivo).
	Revoked bool
	Headers map[string]string
}

func revocationError(code ErrorCode, msg string) *RevocationResponse {
	return &RevocationResponse{Error: true, ErrorCode: code, ErrorMsg: msg}
}

// RevocationEngine revoca pares access/refresh a pedido del cliente dueño.
type RevocationEngine struct {
	cfg         config.OAuth
	validator   *ClientValidator
	m           *minter
	interceptor EventInterceptor // nil = sin eventos
}

// NewRevocationEngine crea el engine. interceptor puede ser nil.
func NewRevocationEngine(cfg config.OAuth, validator *ClientValidator, m *minter, interceptor EventInterceptor) *RevocationEngine {
	return &RevocationEngine{cfg: cfg, validator: validator, m: m, interceptor: interceptor}
}

func (e *RevocationEngine) hooks() bool {
	return e.interceptor != nil && e.interceptor.Enabled()
}

// revocationTarget es el par a revocar tal como se encontró.
type revocationTarget struct {
	access  *repository.AccessTokenRecord
	refresh *repository.RefreshTokenValidationRecord
}

// RevokeByOAuthClient revoca el token indicado. Un token desconocido o ya
// inactivo es un no-op exitoso. Nunca hace panic hacia el caller.
func (e *RevocationEngine) RevokeByOAuthClient(ctx context.Context, req *RevocationRequest) (resp *RevocationResponse) {
	if req == nil {
		metrics.ObserveRevocation(metrics.ResultError)
		return revocationError(CodeInvalidRequest, MsgInvalidRevocationRequest)
	}
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("oauth.token.revoke"),
		logger.ClientID(req.ConsumerKey),
		logger.TokenHint(req.TokenTypeHint),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while revoking token", logger.Any("panic", r))
			resp = revocationError(CodeServerError, MsgRevocationFailed)
		}
		switch {
		case resp.Error && !resp.Committed:
			metrics.ObserveRevocation(metrics.ResultError)
		case !resp.Revoked && !resp.Error:
			metrics.ObserveRevocation(metrics.ResultNoop)
		default:
			metrics.ObserveRevocation(metrics.ResultSuccess)
		}
	}()

	if strings.TrimSpace(req.ConsumerKey) == "" || req.Token == "" {
		return revocationError(CodeInvalidRequest, MsgInvalidRevocationRequest)
	}

	if e.hooks() {
		if err := e.interceptor.OnPreTokenRevocationByClient(ctx, req); err != nil {
			log.Error("pre revocation hook failed", logger.Err(err))
			return revocationError(CodeServerError, MsgRevocationFailed)
		}
	}

	app, oe := e.validator.ResolveClient(ctx, req.ConsumerKey)
	if oe != nil {
		if oe.Code == CodeServerError {
			log.Error("client lookup failed", logger.Err(oe.Err))
			return revocationError(CodeServerError, MsgRevocationFailed)
		}
		return revocationError(CodeUnauthorizedClient, MsgUnauthorizedClient)
	}
	if !AuthenticateClient(app, req.ConsumerSecret) {
		log.Info("client authentication failed")
		return revocationError(CodeUnauthorizedClient, MsgUnauthorizedClient)
	}

	hash := tokens.Hash(req.Token)
	target, err := e.lookup(ctx, app.ConsumerKey, hash, req.TokenTypeHint)
	if err != nil {
		log.Error("token lookup failed", logger.Err(err))
		return revocationError(CodeServerError, MsgRevocationFailed)
	}
	resp = &RevocationResponse{}
	if target == nil {
		log.Debug("unknown token, nothing to revoke")
		return resp
	}
	if target.access.ConsumerKey != app.ConsumerKey {
		log.Warn("token belongs to another client", logger.TokenID(target.access.TokenID))
		return revocationError(CodeUnauthorizedClient, MsgUnauthorizedClient)
	}
	if target.access.State.Terminal() {
		log.Debug("token already inactive", logger.TokenID(target.access.TokenID), logger.String("state", string(target.access.State)))
		return resp
	}

	n, err := e.m.store.RevokeTokens(ctx, target.access.AccessTokenHash)
	if err != nil {
		log.Error("revoke tokens failed", logger.TokenID(target.access.TokenID), logger.Err(err))
		return revocationError(CodeServerError, MsgRevocationFailed)
	}
	e.m.cacheInvalidate(ctx, target.access, log)
	if n == 0 {
		// otra request lo dejó inactivo entre el lookup y el commit
		log.Debug("token became inactive concurrently", logger.TokenID(target.access.TokenID))
		return resp
	}
	resp.Committed = true
	resp.Revoked = true
	target.access.State = repository.TokenStateRevoked
	if target.refresh != nil {
		target.refresh.State = repository.TokenStateRevoked
	}
	if e.cfg.Revocation.ResponseHeaders {
		resp.Headers = e.headers(target.access)
	}
	log.Info("token revoked", logger.TokenID(target.access.TokenID), logger.UserID(target.access.AuthzUser.Key()))

	if e.hooks() {
		if err := e.interceptor.OnPostTokenRevocationByClient(ctx, req, resp, target.access, target.refresh); err != nil {
			if e.cfg.PostHookFailureReported() {
				log.Error("post revocation hook failed", logger.Err(err))
				resp.Error = true
				resp.ErrorCode = CodeServerError
				resp.ErrorMsg = MsgRevocationFailed
			} else {
				log.Warn("post revocation hook failed, ignored", logger.Err(err))
			}
		}
	}
	return resp
}

// lookup resuelve el token por hash. nil, nil = desconocido.
func (e *RevocationEngine) lookup(ctx context.Context, consumerKey, hash, hint string) (*revocationTarget, error) {
	if hint == HintRefreshToken {
		t, err := e.byRefresh(ctx, consumerKey, hash)
		if t != nil || err != nil {
			return t, err
		}
		return e.byAccess(ctx, hash)
	}
	t, err := e.byAccess(ctx, hash)
	if t != nil || err != nil {
		return t, err
	}
	return e.byRefresh(ctx, consumerKey, hash)
}

func (e *RevocationEngine) byAccess(ctx context.Context, hash string) (*revocationTarget, error) {
	if e.m.cache != nil {
		rec, err := e.m.cache.GetByToken(ctx, hash)
		if err == nil {
			return &revocationTarget{access: rec}, nil
		}
		if !cache.IsNotFound(err) {
			logger.From(ctx).Warn("token cache read failed", logger.Err(err))
		}
	}
	rec, err := e.m.store.GetAccessToken(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &revocationTarget{access: rec}, nil
}

func (e *RevocationEngine) byRefresh(ctx context.Context, consumerKey, hash string) (*revocationTarget, error) {
	v, err := e.m.store.ValidateRefreshToken(ctx, consumerKey, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := e.m.store.GetAccessToken(ctx, v.AccessTokenHash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec = previousRecord(v)
		rec.State = v.State
	case err != nil:
		return nil, err
	}
	return &revocationTarget{access: rec, refresh: v}, nil
}

func (e *RevocationEngine) headers(rec *repository.AccessTokenRecord) map[string]string {
	h := map[string]string{HeaderAuthorizedUser: rec.AuthzUser.Key()}
	if raw, ok := e.m.reveal(rec.AccessToken); ok {
		h[HeaderRevokedAccessToken] = raw
	}
	if raw, ok := e.m.reveal(rec.RefreshToken); ok {
		h[HeaderRevokedRefreshToken] = raw
	}
	return h
}
