package oauth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

// IDTokenContext es lo que se sabe de la emisión al construir un ID token.
type IDTokenContext struct {
	ConsumerKey  string
	TenantDomain string
	User         repository.AuthenticatedUser
	Scopes       []string
	Nonce        string
	ACR          string
	// AccessToken / AuthorizationCode (valores crudos) alimentan at_hash / c_hash.
	AccessToken       string
	AuthorizationCode string
	// Audiences extra además del client id.
	Audiences []string
}

// ClaimsCallback aporta claims custom al ID token. Los claims reservados
// (iss, sub, aud, exp, iat, ...) no pueden sobrescribirse.
type ClaimsCallback interface {
	CustomClaims(ctx context.Context, ictx *IDTokenContext) (map[string]any, error)
}

// ClaimsCallbackFunc adapta una función a ClaimsCallback.
type ClaimsCallbackFunc func(ctx context.Context, ictx *IDTokenContext) (map[string]any, error)

func (f ClaimsCallbackFunc) CustomClaims(ctx context.Context, ictx *IDTokenContext) (map[string]any, error) {
	return f(ctx, ictx)
}

var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "azp": {}, "exp": {}, "iat": {}, "nbf": {},
	"auth_time": {}, "nonce": {}, "acr": {}, "amr": {}, "at_hash": {}, "c_hash": {},
}

// IDTokenBuilder construye y firma ID tokens OIDC.
type IDTokenBuilder struct {
	cfg    config.OIDC
	alg    string
	keys   jwt.KeyResolver
	idps   repository.IdentityDirectory
	apps   repository.ApplicationDirectory
	claims ClaimsCallback
	now    func() time.Time
}

// NewIDTokenBuilder valida el algoritmo configurado. apps y claims son opcionales.
func NewIDTokenBuilder(cfg config.OIDC, keys jwt.KeyResolver, idps repository.IdentityDirectory, apps repository.ApplicationDirectory, claims ClaimsCallback) (*IDTokenBuilder, error) {
	alg := jwt.NormalizeAlg(cfg.SignatureAlgorithm)
	if _, err := jwt.DigestFor(alg); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("oauth: id token builder requires a key resolver")
	}
	return &IDTokenBuilder{cfg: cfg, alg: alg, keys: keys, idps: idps, apps: apps, claims: claims, now: time.Now}, nil
}

// Algorithm devuelve el algoritmo de firma efectivo.
func (b *IDTokenBuilder) Algorithm() string { return b.alg }

// ResolveIssuer obtiene el issuer del IdP residente del tenant (authenticator
// OpenIDConnect, propiedad IdPEntityId) o del default configurado.
func (b *IDTokenBuilder) ResolveIssuer(ctx context.Context, tenantDomain string) (string, error) {
	if b.idps != nil {
		idp, err := b.idps.GetResidentIdentityProvider(ctx, tenantDomain)
		if err != nil {
			return "", buildErr("resident identity provider unresolvable", err)
		}
		if idp == nil {
			return "", buildErr("resident identity provider unresolvable", nil)
		}
		fa := idp.FederatedAuthenticator(repository.OIDCAuthenticatorName)
		if iss, ok := fa.Property(repository.IdPEntityIDProperty); ok && strings.TrimSpace(iss) != "" {
			return iss, nil
		}
	}
	if def := b.cfg.DefaultAuthenticators[repository.OIDCAuthenticatorName]; def != nil {
		if iss := strings.TrimSpace(def[repository.IdPEntityIDProperty]); iss != "" {
			return iss, nil
		}
	}
	return "", buildErr("no issuer configured for "+repository.OIDCAuthenticatorName, nil)
}

// subject arma el sub según la configuración del service provider.
func (b *IDTokenBuilder) subject(ctx context.Context, ictx *IDTokenContext) (string, error) {
	sub := ictx.User.Subject
	if b.apps == nil {
		return sub, nil
	}
	sp, err := b.apps.GetServiceProviderByClientID(ctx, ictx.ConsumerKey, ictx.TenantDomain)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && sp == nil) {
		return sub, nil
	}
	if err != nil {
		return "", buildErr("service provider lookup failed", err)
	}
	if sp.UseUserStoreDomainInSubject && ictx.User.UserStoreDomain != "" {
		sub = strings.ToUpper(ictx.User.UserStoreDomain) + "/" + sub
	}
	tenant := ictx.User.TenantDomain
	if tenant == "" {
		tenant = ictx.TenantDomain
	}
	if sp.UseTenantDomainInSubject && tenant != "" {
		sub = sub + "@" + tenant
	}
	return sub, nil
}

// Build arma, completa y firma el ID token. Cualquier fallo es *TokenBuildError.
func (b *IDTokenBuilder) Build(ctx context.Context, ictx IDTokenContext) (tok string, err error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.idtoken.build"), logger.ClientID(ictx.ConsumerKey))
	defer func() {
		metrics.ObserveIDToken(err == nil)
		if err != nil {
			log.Warn("id token build failed", logger.Err(err))
		}
	}()

	iss, err := b.ResolveIssuer(ctx, ictx.TenantDomain)
	if err != nil {
		return "", err
	}
	sub, err := b.subject(ctx, &ictx)
	if err != nil {
		return "", err
	}

	now := b.now()
	aud := []string{ictx.ConsumerKey}
	for _, a := range ictx.Audiences {
		if a != "" && a != ictx.ConsumerKey {
			aud = append(aud, a)
		}
	}
	claims := jwtv5.MapClaims{
		"iss": iss,
		"sub": sub,
		"aud": aud,
		"azp": ictx.ConsumerKey,
		"iat": now.Unix(),
		"exp": now.Add(b.cfg.IDTokenExpiry()).Unix(),
	}
	if !ictx.User.AuthTime.IsZero() {
		claims["auth_time"] = ictx.User.AuthTime.Unix()
	}
	if ictx.Nonce != "" {
		claims["nonce"] = ictx.Nonce
	}
	if ictx.ACR != "" {
		claims["acr"] = ictx.ACR
	}
	if len(ictx.User.AMR) > 0 {
		claims["amr"] = ictx.User.AMR
	}
	if ictx.AccessToken != "" {
		h, err := jwt.HalfHash(b.alg, ictx.AccessToken)
		if err != nil {
			return "", buildErr("at_hash", err)
		}
		claims["at_hash"] = h
	}
	if ictx.AuthorizationCode != "" {
		h, err := jwt.HalfHash(b.alg, ictx.AuthorizationCode)
		if err != nil {
			return "", buildErr("c_hash", err)
		}
		claims["c_hash"] = h
	}

	if b.claims != nil {
		custom, err := b.claims.CustomClaims(ctx, &ictx)
		if err != nil {
			return "", buildErr("claims callback failed", err)
		}
		for k, v := range custom {
			if _, reserved := reservedClaims[k]; reserved {
				continue
			}
			claims[k] = v
		}
	}

	signer, err := b.keys.SignerFor(ctx, ictx.TenantDomain, b.alg)
	if err != nil {
		return "", buildErr("signing key unresolvable", err)
	}
	tok, err = signer.Sign(claims)
	if err != nil {
		return "", buildErr("signing failed", err)
	}
	return tok, nil
}
