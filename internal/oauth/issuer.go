package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/validation"
)

// TokenTypeBearer es el único token_type emitido.
const TokenTypeBearer = "Bearer"

// TokenRequest es un pedido al token endpoint.
type TokenRequest struct {
	GrantType      string
	ConsumerKey    string
	ConsumerSecret string
	TenantDomain   string
	Scopes         []string

	// password
	Username string
	Password string
	// authorization_code
	AuthorizationCode string
	CallbackURI       string
	CodeVerifier      string
	// refresh_token
	RefreshToken string
	// jwt-bearer
	Assertion string
}

// TokenResponse es el resultado de una emisión. Los errores viajan en
// ErrorCode / ErrorMsg.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	// ExpiresIn en segundos.
	ExpiresIn        int64
	RefreshExpiresIn int64
	Scopes           []string
	TokenID          string

	Error     bool
	ErrorCode ErrorCode
	ErrorMsg  string
}

func tokenError(oe *Error) *TokenResponse {
	msg := oe.Description
	if oe.Code == CodeInvalidClient {
		msg = MsgInvalidClient
	}
	return &TokenResponse{Error: true, ErrorCode: oe.Code, ErrorMsg: msg}
}

// AccessTokenIssuer despacha por grant type y emite/renueva tokens.
type AccessTokenIssuer struct {
	cfg       config.OAuth
	validator *ClientValidator
	grants    map[string]GrantHandler
	m         *minter
	idb       *IDTokenBuilder // nil = sin ID tokens
}

// NewAccessTokenIssuer arma el registro de grants. Solo quedan habilitadas
// las grants listadas en cfg.GrantTypes; un tag duplicado o una grant
// habilitada sin handler es un error de configuración.
func NewAccessTokenIssuer(cfg config.OAuth, validator *ClientValidator, m *minter, idb *IDTokenBuilder, handlers ...GrantHandler) (*AccessTokenIssuer, error) {
	all := make(map[string]GrantHandler, len(handlers))
	for _, h := range handlers {
		gt := h.GrantType()
		if _, dup := all[gt]; dup {
			return nil, fmt.Errorf("oauth: duplicate grant handler %q", gt)
		}
		all[gt] = h
	}
	enabled := make(map[string]GrantHandler, len(cfg.GrantTypes))
	for _, gt := range cfg.GrantTypes {
		if gt == config.GrantImplicit {
			continue // implicit se resuelve en el authorize
		}
		h, ok := all[gt]
		if !ok {
			return nil, fmt.Errorf("oauth: no handler for enabled grant type %q", gt)
		}
		enabled[gt] = h
	}
	return &AccessTokenIssuer{cfg: cfg, validator: validator, grants: enabled, m: m, idb: idb}, nil
}

// GrantTypes devuelve las grants habilitadas.
func (i *AccessTokenIssuer) GrantTypes() []string {
	out := make([]string, 0, len(i.grants))
	for gt := range i.grants {
		out = append(out, gt)
	}
	return out
}

// Issue valida el pedido y emite tokens. Nunca hace panic hacia el caller.
func (i *AccessTokenIssuer) Issue(ctx context.Context, req *TokenRequest) (resp *TokenResponse) {
	if req == nil {
		metrics.ObserveIssue("", false, 0)
		return tokenError(NewError(CodeInvalidRequest, MsgInvalidRequest))
	}
	start := time.Now()
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("oauth.token.issue"),
		logger.GrantType(req.GrantType),
		logger.ClientID(req.ConsumerKey),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while issuing token", logger.Any("panic", r))
			resp = tokenError(NewError(CodeServerError, MsgServerError))
		}
		metrics.ObserveIssue(req.GrantType, !resp.Error, time.Since(start))
	}()

	fail := func(err error) *TokenResponse {
		oe := AsError(err)
		if oe.Code == CodeServerError {
			log.Error("token issuance failed", logger.ErrorCode(string(oe.Code)), logger.Err(err))
		} else {
			log.Info("token request rejected", logger.ErrorCode(string(oe.Code)), logger.Err(err))
		}
		return tokenError(oe)
	}

	h, ok := i.grants[req.GrantType]
	if !ok {
		return fail(NewError(CodeUnsupportedGrantType, "Unsupported grant_type value"))
	}
	app, oe := i.validator.ResolveClient(ctx, req.ConsumerKey)
	if oe != nil {
		return fail(oe)
	}
	if !AuthenticateClient(app, req.ConsumerSecret) {
		return fail(NewError(CodeInvalidClient, MsgInvalidClient))
	}
	if !app.AllowsGrant(req.GrantType) {
		return fail(NewError(CodeUnauthorizedClient, "The authenticated client is not authorized to use this authorization grant type"))
	}

	gr, err := h.Validate(ctx, req, app)
	if err != nil {
		return fail(err)
	}
	if gr.User.TenantDomain == "" {
		gr.User.TenantDomain = tenantOf(req, app)
	}
	gr.Scopes = repository.NormalizeScopes(gr.Scopes)
	if bad := validation.InvalidScopes(gr.Scopes); bad != nil {
		return fail(NewError(CodeInvalidScope, "Invalid scope: "+strings.Join(bad, " ")))
	}

	if i.cfg.ReuseActiveTokens && gr.Previous == nil {
		if out := i.reuse(ctx, app, gr, log); out != nil {
			return out
		}
	}

	out, err := i.mint(ctx, req, app, gr, log)
	if err != nil {
		return fail(err)
	}
	log.Info("token issued", logger.TokenID(out.TokenID), logger.UserID(gr.User.Key()))
	return out
}

func (i *AccessTokenIssuer) validity(gr *GrantResult) time.Duration {
	if gr.UserBound {
		return i.cfg.UserAccessTokenValidity()
	}
	return i.cfg.ApplicationAccessTokenValidity()
}

func (i *AccessTokenIssuer) mint(ctx context.Context, req *TokenRequest, app *repository.ClientApplication, gr *GrantResult, log *zap.Logger) (*TokenResponse, error) {
	now := i.m.now()
	access, err := i.m.newValue()
	if err != nil {
		return nil, err
	}
	rec := &repository.AccessTokenRecord{
		TokenID:         uuid.NewString(),
		ConsumerKey:     app.ConsumerKey,
		AuthzUser:       gr.User,
		Scopes:          gr.Scopes,
		AccessToken:     access.Stored,
		AccessTokenHash: access.Hash,
		IssuedAt:        now,
		ValidityPeriod:  i.validity(gr),
		State:           repository.TokenStateActive,
		GrantType:       req.GrantType,
		TenantDomain:    gr.User.TenantDomain,
	}

	var rawRefresh, retire string
	if gr.Previous != nil {
		retire = gr.Previous.AccessTokenHash
	}
	if gr.IssueRefreshToken {
		if gr.Previous != nil && !i.cfg.RenewRefreshToken {
			// sin renovación: el mismo refresh token pasa al par nuevo
			rec.RefreshToken = gr.Previous.RefreshToken
			rec.RefreshTokenHash = gr.Previous.RefreshTokenHash
			rec.RefreshIssuedAt = gr.Previous.IssuedAt
			rec.RefreshValidityPeriod = gr.Previous.ValidityPeriod
			rawRefresh = req.RefreshToken
		} else {
			refresh, err := i.m.newValue()
			if err != nil {
				return nil, err
			}
			rec.RefreshToken = refresh.Stored
			rec.RefreshTokenHash = refresh.Hash
			rec.RefreshIssuedAt = now
			rec.RefreshValidityPeriod = i.cfg.RefreshTokenValidity()
			rawRefresh = refresh.Raw
		}
	}

	// el ID token se arma antes de escribir: si falla no queda nada persistido
	idToken, err := i.idToken(ctx, app, gr, access.Raw)
	if err != nil {
		return nil, err
	}

	if err := i.m.store.StoreAccessToken(ctx, rec, retire); err != nil {
		if errors.Is(err, repository.ErrTokenInactive) || (retire != "" && errors.Is(err, repository.ErrNotFound)) {
			return nil, WrapError(CodeInvalidGrant, "Refresh token is not active", err)
		}
		return nil, fmt.Errorf("store access token: %w", err)
	}
	// el par viejo comparte la key (client, user, scope): se invalida antes del put
	if gr.Previous != nil {
		i.m.cacheInvalidate(ctx, previousRecord(gr.Previous), log)
	}
	i.m.cachePut(ctx, rec, log)

	out := &TokenResponse{
		AccessToken:  access.Raw,
		RefreshToken: rawRefresh,
		IDToken:      idToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(rec.ValidityPeriod / time.Second),
		Scopes:       rec.Scopes,
		TokenID:      rec.TokenID,
	}
	if rec.HasRefreshToken() {
		out.RefreshExpiresIn = int64(rec.RefreshExpiresAt().Sub(now) / time.Second)
	}
	return out, nil
}

func (i *AccessTokenIssuer) idToken(ctx context.Context, app *repository.ClientApplication, gr *GrantResult, rawAccess string) (string, error) {
	if i.idb == nil || !gr.AttachIDToken || !hasScope(gr.Scopes, "openid") {
		return "", nil
	}
	return i.idb.Build(ctx, IDTokenContext{
		ConsumerKey:  app.ConsumerKey,
		TenantDomain: gr.User.TenantDomain,
		User:         gr.User,
		Scopes:       gr.Scopes,
		Nonce:        gr.Nonce,
		ACR:          gr.ACR,
		AccessToken:  rawAccess,
		Audiences:    app.Audiences,
	})
}

// reuse devuelve el token activo de (client, user, scope) si sigue vigente.
// Un match vencido pasa a EXPIRED solo si su refresh token también venció.
// nil = emitir uno nuevo.
func (i *AccessTokenIssuer) reuse(ctx context.Context, app *repository.ClientApplication, gr *GrantResult, log *zap.Logger) *TokenResponse {
	userKey, scope := gr.User.Key(), repository.ScopeString(gr.Scopes)

	var rec *repository.AccessTokenRecord
	if i.m.cache != nil {
		rec, _ = i.m.cache.GetByClientUserScope(ctx, app.ConsumerKey, userKey, scope)
	}
	if rec == nil {
		var err error
		rec, err = i.m.store.GetLatestAccessToken(ctx, app.ConsumerKey, userKey, scope)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				log.Warn("active token lookup failed", logger.Err(err))
			}
			return nil
		}
	}
	if rec.State != repository.TokenStateActive {
		return nil
	}

	now := i.m.now()
	skew := i.cfg.TimestampSkew()
	if expiredAt(rec.IssuedAt, rec.ValidityPeriod, now, skew) {
		// el par comparte fila: con el refresh token vigente queda ACTIVE para
		// que su dueño pueda seguir renovando
		if rec.HasRefreshToken() && !expiredAt(rec.RefreshIssuedAt, rec.RefreshValidityPeriod, now, skew) {
			i.m.cacheInvalidate(ctx, rec, log)
			return nil
		}
		if err := i.m.store.ExpireAccessToken(ctx, rec.AccessTokenHash); err != nil && !errors.Is(err, repository.ErrTokenInactive) {
			log.Warn("expire stale token failed", logger.TokenID(rec.TokenID), logger.Err(err))
		}
		i.m.cacheInvalidate(ctx, rec, log)
		return nil
	}
	remaining := rec.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return nil
	}

	rawAccess, ok := i.m.reveal(rec.AccessToken)
	if !ok {
		return nil
	}
	var rawRefresh string
	if rec.HasRefreshToken() {
		if rawRefresh, ok = i.m.reveal(rec.RefreshToken); !ok {
			return nil
		}
	}
	idToken, err := i.idToken(ctx, app, gr, rawAccess)
	if err != nil {
		log.Warn("id token for reused token failed", logger.Err(err))
		return nil
	}

	log.Info("active token reused", logger.TokenID(rec.TokenID))
	out := &TokenResponse{
		AccessToken:  rawAccess,
		RefreshToken: rawRefresh,
		IDToken:      idToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(remaining / time.Second),
		Scopes:       rec.Scopes,
		TokenID:      rec.TokenID,
	}
	if rec.HasRefreshToken() {
		out.RefreshExpiresIn = int64(rec.RefreshExpiresAt().Sub(now) / time.Second)
	}
	return out
}

// previousRecord reconstruye lo necesario para invalidar el par viejo en cache.
func previousRecord(v *repository.RefreshTokenValidationRecord) *repository.AccessTokenRecord {
	return &repository.AccessTokenRecord{
		TokenID:         v.TokenID,
		ConsumerKey:     v.ConsumerKey,
		AuthzUser:       v.AuthzUser,
		Scopes:          v.Scopes,
		AccessTokenHash: v.AccessTokenHash,
	}
}
