package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	tokens "github.com/dropDatabas3/tokencore/internal/security/token"
)

// Deps son los colaboradores del Service. Los opcionales pueden quedar en
// su zero value.
type Deps struct {
	OAuth config.OAuth
	OIDC  config.OIDC

	Store repository.TokenStore
	// Cache se ignora si OAuth.CacheEnabled es false.
	Cache *cache.TokenCache

	Clients      repository.ClientDirectory
	Identity     repository.IdentityDirectory
	Applications repository.ApplicationDirectory
	Users        repository.UserAuthenticator
	Claims       repository.UserClaimsSource
	Keys         jwt.KeyResolver

	// Generator / Processor: si son nil se crean desde la config.
	Generator tokens.ValueGenerator
	Processor tokens.PersistenceProcessor
	// Box es requerido por el processor "encrypted" cuando Processor es nil.
	Box *secretbox.Box

	Interceptor    EventInterceptor
	ClaimsCallback ClaimsCallback
	Now            func() time.Time

	ExtraGrants        []GrantHandler
	ExtraResponseTypes []ResponseTypeHandler
}

// Service es la superficie expuesta del core OAuth2/OIDC.
type Service struct {
	cfg       config.OAuth
	validator *ClientValidator
	authz     *AuthorizationEngine
	issuer    *AccessTokenIssuer
	revoker   *RevocationEngine
	idb       *IDTokenBuilder
}

// New arma el Service. Solo errores de construcción (config inválida,
// processor/generator desconocido, registro duplicado) se devuelven acá.
func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("oauth: token store is required")
	}
	if d.Clients == nil {
		return nil, errors.New("oauth: client directory is required")
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	gen := d.Generator
	if gen == nil {
		g, err := tokens.NewGenerator(d.OAuth.TokenGenerator)
		if err != nil {
			return nil, err
		}
		gen = g
	}
	proc := d.Processor
	if proc == nil {
		p, err := tokens.NewProcessor(d.OAuth.PersistenceProcessor, d.Box)
		if err != nil {
			return nil, err
		}
		proc = p
	}

	m := &minter{store: d.Store, gen: gen, proc: proc, now: now}
	if d.OAuth.CacheEnabled {
		m.cache = d.Cache
	}

	claims := d.ClaimsCallback
	if claims == nil && d.OIDC.ClaimsCallback == "scope" && d.Claims != nil {
		claims = UserClaimsCallback{Users: d.Claims, Apps: d.Applications}
	}
	var idb *IDTokenBuilder
	if d.Keys != nil {
		b, err := NewIDTokenBuilder(d.OIDC, d.Keys, d.Identity, d.Applications, claims)
		if err != nil {
			return nil, err
		}
		b.now = now
		idb = b
	}

	validator := NewClientValidator(d.Clients)
	skew := d.OAuth.TimestampSkew()

	grants := []GrantHandler{
		ClientCredentialsGrant{},
		RefreshTokenGrant{Store: d.Store, Skew: skew, Now: now},
		AuthorizationCodeGrant{
			Store:      d.Store,
			Cache:      m.cache,
			PKCE:       d.OAuth.PKCE.Enabled,
			AllowPlain: d.OAuth.PKCE.AllowPlain,
			Skew:       skew,
			Now:        now,
		},
	}
	if d.Users != nil {
		grants = append(grants, PasswordGrant{Users: d.Users})
	}
	if idb != nil {
		grants = append(grants, JWTBearerGrant{Keys: d.Keys, Issuers: idb, Algorithm: idb.Algorithm(), Skew: skew, Now: now})
	}
	grants = append(grants, d.ExtraGrants...)

	issuer, err := NewAccessTokenIssuer(d.OAuth, validator, m, idb, grants...)
	if err != nil {
		return nil, err
	}

	rts := []ResponseTypeHandler{
		CodeHandler{m: m, validity: d.OAuth.AuthorizationCodeValidity(), pkce: d.OAuth.PKCE.Enabled},
		ImplicitHandler{responseType: ResponseTypeToken, withToken: true, m: m, validity: d.OAuth.UserAccessTokenValidity()},
	}
	if idb != nil {
		rts = append(rts,
			ImplicitHandler{responseType: ResponseTypeIDToken, withIDToken: true, m: m, idb: idb},
			ImplicitHandler{responseType: ResponseTypeIDTokenToken, withToken: true, withIDToken: true, m: m, idb: idb, validity: d.OAuth.UserAccessTokenValidity()},
		)
	}
	rts = append(rts, d.ExtraResponseTypes...)

	authz, err := NewAuthorizationEngine(d.OAuth, validator, rts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       d.OAuth,
		validator: validator,
		authz:     authz,
		issuer:    issuer,
		revoker:   NewRevocationEngine(d.OAuth, validator, m, d.Interceptor),
		idb:       idb,
	}, nil
}

// Authorize procesa un pedido de autorización ya autenticado.
func (s *Service) Authorize(ctx context.Context, req *AuthorizationRequest) *AuthorizationResponse {
	return s.authz.Authorize(ctx, req)
}

// IssueAccessToken emite tokens para un pedido del token endpoint.
func (s *Service) IssueAccessToken(ctx context.Context, req *TokenRequest) *TokenResponse {
	return s.issuer.Issue(ctx, req)
}

// ValidateClientInfo valida el cliente y su callback.
func (s *Service) ValidateClientInfo(ctx context.Context, consumerKey, callbackURI string) ClientValidationResult {
	return s.validator.Validate(ctx, consumerKey, callbackURI)
}

// RevokeTokenByOAuthClient revoca un token a pedido del cliente dueño.
func (s *Service) RevokeTokenByOAuthClient(ctx context.Context, req *RevocationRequest) *RevocationResponse {
	return s.revoker.RevokeByOAuthClient(ctx, req)
}

// IsPKCESupportEnabled reporta si PKCE está habilitado.
func (s *Service) IsPKCESupportEnabled() bool { return s.cfg.PKCE.Enabled }

// BuildIDToken construye un ID token fuera del flujo de emisión.
func (s *Service) BuildIDToken(ctx context.Context, ictx IDTokenContext) (string, error) {
	if s.idb == nil {
		return "", buildErr("no signing keys configured", nil)
	}
	return s.idb.Build(ctx, ictx)
}

// GrantTypes devuelve las grants habilitadas.
func (s *Service) GrantTypes() []string { return s.issuer.GrantTypes() }
