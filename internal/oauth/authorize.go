package oauth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/validation"
)

// Response types soportados por defecto.
const (
	ResponseTypeCode         = "code"
	ResponseTypeToken        = "token"
	ResponseTypeIDToken      = "id_token"
	ResponseTypeIDTokenToken = "id_token token"
)

// Métodos PKCE (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// AuthorizationRequest es un pedido al authorize endpoint, ya autenticado.
type AuthorizationRequest struct {
	ResponseType        string
	ConsumerKey         string
	CallbackURI         string
	TenantDomain        string
	Scopes              []string
	State               string
	Nonce               string
	ACRValues           []string
	User                *repository.AuthenticatedUser
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationResponse es el resultado del authorize. Los errores viajan
// en ErrorCode / ErrorMsg.
type AuthorizationResponse struct {
	CallbackURI       string
	AuthorizationCode string
	AccessToken       string
	TokenType         string
	ExpiresIn         int64
	IDToken           string
	Scopes            []string
	State             string

	ErrorCode ErrorCode
	ErrorMsg  string
}

// Failed reporta si la respuesta es un error.
func (r *AuthorizationResponse) Failed() bool { return r.ErrorCode != "" }

// AuthzContext es el pedido ya validado que recibe un ResponseTypeHandler.
type AuthzContext struct {
	Request     *AuthorizationRequest
	Client      *repository.ClientApplication
	CallbackURL string
	Tenant      string
	Scopes      []string
}

// ResponseTypeHandler produce la respuesta de un response type.
type ResponseTypeHandler interface {
	ResponseType() string
	// GrantType es la grant que el cliente debe tener habilitada.
	GrantType() string
	Handle(ctx context.Context, actx *AuthzContext) (*AuthorizationResponse, error)
}

// NormalizeResponseType ordena los componentes ("token id_token" → "id_token token").
func NormalizeResponseType(rt string) string {
	parts := strings.Fields(rt)
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// AuthorizationEngine despacha por response type.
type AuthorizationEngine struct {
	cfg       config.OAuth
	validator *ClientValidator
	handlers  map[string]ResponseTypeHandler
}

// NewAuthorizationEngine arma el registro de response types habilitados
// (cfg.ResponseTypes).
func NewAuthorizationEngine(cfg config.OAuth, validator *ClientValidator, handlers ...ResponseTypeHandler) (*AuthorizationEngine, error) {
	all := make(map[string]ResponseTypeHandler, len(handlers))
	for _, h := range handlers {
		rt := NormalizeResponseType(h.ResponseType())
		if _, dup := all[rt]; dup {
			return nil, fmt.Errorf("oauth: duplicate response type handler %q", rt)
		}
		all[rt] = h
	}
	enabled := make(map[string]ResponseTypeHandler, len(cfg.ResponseTypes))
	for _, rt := range cfg.ResponseTypes {
		rt = NormalizeResponseType(rt)
		h, ok := all[rt]
		if !ok {
			return nil, fmt.Errorf("oauth: no handler for enabled response type %q", rt)
		}
		enabled[rt] = h
	}
	return &AuthorizationEngine{cfg: cfg, validator: validator, handlers: enabled}, nil
}

func authzError(req *AuthorizationRequest, oe *Error) *AuthorizationResponse {
	return &AuthorizationResponse{ErrorCode: oe.Code, ErrorMsg: oe.Description, State: req.State, CallbackURI: req.CallbackURI}
}

// Authorize valida el pedido y delega en el handler del response type.
// Nunca hace panic hacia el caller: cualquier fallo interno es server_error.
func (e *AuthorizationEngine) Authorize(ctx context.Context, req *AuthorizationRequest) (resp *AuthorizationResponse) {
	if req == nil {
		metrics.ObserveAuthorize("", false)
		return &AuthorizationResponse{ErrorCode: CodeInvalidRequest, ErrorMsg: MsgInvalidRequest}
	}
	rt := NormalizeResponseType(req.ResponseType)
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("oauth.authorize"),
		logger.ResponseType(rt),
		logger.ClientID(req.ConsumerKey),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in authorize", logger.Any("panic", r))
			resp = authzError(req, NewError(CodeServerError, MsgServerError))
		}
		metrics.ObserveAuthorize(rt, !resp.Failed())
	}()

	h, ok := e.handlers[rt]
	if !ok {
		return authzError(req, NewError(CodeUnsupportedResponseType, "Unsupported response_type value"))
	}
	if req.User == nil || req.User.Subject == "" {
		return authzError(req, NewError(CodeInvalidRequest, "Authenticated user is required"))
	}

	vr := e.validator.Validate(ctx, req.ConsumerKey, req.CallbackURI)
	if !vr.Valid {
		return authzError(req, NewError(vr.ErrorCode, vr.ErrorMsg))
	}
	app := vr.Application
	if !app.AllowsGrant(h.GrantType()) {
		return authzError(req, NewError(CodeUnauthorizedClient, "The client is not authorized to use response_type "+rt))
	}

	scopes := repository.NormalizeScopes(req.Scopes)
	if bad := validation.InvalidScopes(scopes); bad != nil {
		return authzError(req, NewError(CodeInvalidScope, "Invalid scope: "+strings.Join(bad, " ")))
	}
	if strings.Contains(rt, ResponseTypeIDToken) {
		if !hasScope(scopes, "openid") {
			return authzError(req, NewError(CodeInvalidRequest, "openid scope is required for id_token response types"))
		}
		if req.Nonce == "" {
			return authzError(req, NewError(CodeInvalidRequest, "nonce is required for id_token response types"))
		}
	}
	if rt == ResponseTypeCode {
		if oe := e.checkPKCE(req, app); oe != nil {
			return authzError(req, oe)
		}
	}

	tenant := req.TenantDomain
	if tenant == "" {
		tenant = req.User.TenantDomain
	}
	if tenant == "" {
		tenant = app.TenantDomain
	}

	out, err := h.Handle(ctx, &AuthzContext{Request: req, Client: app, CallbackURL: vr.CallbackURL, Tenant: tenant, Scopes: scopes})
	if err != nil {
		oe := AsError(err)
		log.Error("authorize handler failed", logger.ErrorCode(string(oe.Code)), logger.Err(err))
		return authzError(req, oe)
	}
	out.CallbackURI = vr.CallbackURL
	out.State = req.State
	if out.Scopes == nil {
		out.Scopes = scopes
	}
	return out
}

func (e *AuthorizationEngine) checkPKCE(req *AuthorizationRequest, app *repository.ClientApplication) *Error {
	if !e.cfg.PKCE.Enabled {
		return nil
	}
	if req.CodeChallenge == "" {
		if app.Public {
			return NewError(CodeInvalidRequest, "PKCE is mandatory for public clients")
		}
		return nil
	}
	switch req.CodeChallengeMethod {
	case PKCEMethodS256:
	case "", PKCEMethodPlain:
		if !e.cfg.PKCE.AllowPlain {
			return NewError(CodeInvalidRequest, "plain PKCE challenge method is not allowed")
		}
	default:
		return NewError(CodeInvalidRequest, "unsupported code_challenge_method")
	}
	return nil
}

// ─── handlers ───

// CodeHandler emite authorization codes (single use, validez fija).
type CodeHandler struct {
	m        *minter
	validity time.Duration
	pkce     bool
}

func (CodeHandler) ResponseType() string { return ResponseTypeCode }
func (CodeHandler) GrantType() string    { return config.GrantAuthorizationCode }

func (h CodeHandler) Handle(ctx context.Context, actx *AuthzContext) (*AuthorizationResponse, error) {
	v, err := h.m.newValue()
	if err != nil {
		return nil, err
	}
	req := actx.Request
	user := *req.User
	if user.TenantDomain == "" {
		user.TenantDomain = actx.Tenant
	}
	rec := &repository.AuthzCodeRecord{
		CodeID:         uuid.NewString(),
		Code:           v.Stored,
		CodeHash:       v.Hash,
		ConsumerKey:    actx.Client.ConsumerKey,
		CallbackURI:    actx.CallbackURL,
		AuthzUser:      user,
		Scopes:         actx.Scopes,
		Nonce:          req.Nonce,
		ACR:            firstNonEmpty(req.ACRValues),
		IssuedAt:       h.m.now(),
		ValidityPeriod: h.validity,
		State:          repository.CodeStateActive,
		TenantDomain:   actx.Tenant,
	}
	if h.pkce && req.CodeChallenge != "" {
		rec.CodeChallenge = req.CodeChallenge
		rec.CodeChallengeMethod = req.CodeChallengeMethod
		if rec.CodeChallengeMethod == "" {
			rec.CodeChallengeMethod = PKCEMethodPlain
		}
	}
	if err := h.m.store.StoreAuthzCode(ctx, rec); err != nil {
		return nil, fmt.Errorf("store authorization code: %w", err)
	}
	if h.m.cache != nil {
		if err := h.m.cache.PutAuthzCode(ctx, rec); err != nil {
			logger.From(ctx).Warn("authorization code cache write failed", logger.Err(err))
		}
	}
	return &AuthorizationResponse{AuthorizationCode: v.Raw, ExpiresIn: int64(h.validity / time.Second)}, nil
}

// ImplicitHandler cubre token, id_token e "id_token token".
type ImplicitHandler struct {
	responseType string
	withToken    bool
	withIDToken  bool
	m            *minter
	idb          *IDTokenBuilder
	validity     time.Duration
}

func (h ImplicitHandler) ResponseType() string { return h.responseType }
func (ImplicitHandler) GrantType() string      { return config.GrantImplicit }

func (h ImplicitHandler) Handle(ctx context.Context, actx *AuthzContext) (*AuthorizationResponse, error) {
	req := actx.Request
	user := *req.User
	if user.TenantDomain == "" {
		user.TenantDomain = actx.Tenant
	}
	out := &AuthorizationResponse{}

	var rec *repository.AccessTokenRecord
	if h.withToken {
		v, err := h.m.newValue()
		if err != nil {
			return nil, err
		}
		rec = &repository.AccessTokenRecord{
			TokenID:         uuid.NewString(),
			ConsumerKey:     actx.Client.ConsumerKey,
			AuthzUser:       user,
			Scopes:          actx.Scopes,
			AccessToken:     v.Stored,
			AccessTokenHash: v.Hash,
			IssuedAt:        h.m.now(),
			ValidityPeriod:  h.validity,
			State:           repository.TokenStateActive,
			GrantType:       config.GrantImplicit,
			TenantDomain:    actx.Tenant,
		}
		out.AccessToken = v.Raw
		out.TokenType = TokenTypeBearer
		out.ExpiresIn = int64(h.validity / time.Second)
	}

	// el ID token (con at_hash) se arma antes de persistir: si falla no queda
	// un access token huérfano
	if h.withIDToken {
		if h.idb == nil {
			return nil, NewError(CodeServerError, MsgServerError)
		}
		tok, err := h.idb.Build(ctx, IDTokenContext{
			ConsumerKey:  actx.Client.ConsumerKey,
			TenantDomain: actx.Tenant,
			User:         user,
			Scopes:       actx.Scopes,
			Nonce:        req.Nonce,
			ACR:          firstNonEmpty(req.ACRValues),
			AccessToken:  out.AccessToken,
			Audiences:    actx.Client.Audiences,
		})
		if err != nil {
			return nil, err
		}
		out.IDToken = tok
	}

	if rec != nil {
		if err := h.m.store.StoreAccessToken(ctx, rec, ""); err != nil {
			return nil, fmt.Errorf("store implicit token: %w", err)
		}
		h.m.cachePut(ctx, rec, logger.From(ctx))
	}
	return out, nil
}

func firstNonEmpty(vs []string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
