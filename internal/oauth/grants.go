package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	tokens "github.com/dropDatabas3/tokencore/internal/security/token"
)

// GrantResult es lo que una grant validada aporta a la emisión.
type GrantResult struct {
	User   repository.AuthenticatedUser
	Scopes []string
	// UserBound: token emitido a un usuario (validez de user access token).
	UserBound         bool
	IssueRefreshToken bool
	AttachIDToken     bool
	Nonce             string
	ACR               string
	// Previous es el par a retirar (grant refresh_token).
	Previous *repository.RefreshTokenValidationRecord
}

// GrantHandler valida un tipo de grant. Los errores de protocolo se devuelven
// como *Error; cualquier otro error termina en server_error.
type GrantHandler interface {
	GrantType() string
	Validate(ctx context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error)
}

func tenantOf(req *TokenRequest, client *repository.ClientApplication) string {
	if req.TenantDomain != "" {
		return req.TenantDomain
	}
	return client.TenantDomain
}

// ─── password ───

// PasswordGrant autentica al resource owner contra el UserAuthenticator.
type PasswordGrant struct {
	Users repository.UserAuthenticator
}

func (PasswordGrant) GrantType() string { return config.GrantPassword }

func (g PasswordGrant) Validate(ctx context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, NewError(CodeInvalidRequest, "username and password are required")
	}
	if g.Users == nil {
		return nil, errors.New("password grant: no user authenticator")
	}
	user, err := g.Users.Authenticate(ctx, tenantOf(req, client), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCredentials) {
			return nil, WrapError(CodeInvalidGrant, "Invalid resource owner credentials", err)
		}
		return nil, err
	}
	return &GrantResult{
		User:              *user,
		Scopes:            req.Scopes,
		UserBound:         true,
		IssueRefreshToken: client.AllowsGrant(config.GrantRefreshToken),
		AttachIDToken:     true,
	}, nil
}

// ─── client_credentials ───

// ClientCredentialsGrant emite tokens de aplicación. Nunca emite refresh token.
type ClientCredentialsGrant struct{}

func (ClientCredentialsGrant) GrantType() string { return config.GrantClientCredentials }

func (ClientCredentialsGrant) Validate(_ context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error) {
	if client.Public {
		return nil, NewError(CodeUnauthorizedClient, "public clients cannot use client_credentials")
	}
	subject := client.Owner
	if subject == "" {
		subject = client.ConsumerKey
	}
	return &GrantResult{
		User:   repository.AuthenticatedUser{Subject: subject, TenantDomain: tenantOf(req, client)},
		Scopes: req.Scopes,
	}, nil
}

// ─── authorization_code ───

// AuthorizationCodeGrant canjea un code (single use) con verificación PKCE.
type AuthorizationCodeGrant struct {
	Store repository.TokenStore
	Cache *cache.TokenCache
	PKCE  bool
	// AllowPlain acepta code_challenge_method=plain.
	AllowPlain bool
	Skew       time.Duration
	Now        func() time.Time
}

func (AuthorizationCodeGrant) GrantType() string { return config.GrantAuthorizationCode }

func (g AuthorizationCodeGrant) Validate(ctx context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error) {
	if req.AuthorizationCode == "" {
		return nil, NewError(CodeInvalidRequest, "authorization code is required")
	}
	hash := tokens.Hash(req.AuthorizationCode)

	// cliente, callback, expiración y PKCE se validan contra una lectura:
	// un canje fallido no quema el code del cliente legítimo
	peek, err := g.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if peek.State != "" && peek.State != repository.CodeStateActive {
		return nil, NewError(CodeInvalidGrant, "Inactive authorization code")
	}
	if err := g.check(peek, req, client); err != nil {
		return nil, err
	}

	code, err := g.Store.ConsumeAuthzCode(ctx, hash)
	if g.Cache != nil {
		_ = g.Cache.DeleteAuthzCode(ctx, hash)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, WrapError(CodeInvalidGrant, "Invalid authorization code", err)
	case errors.Is(err, repository.ErrTokenInactive):
		return nil, WrapError(CodeInvalidGrant, "Inactive authorization code", err)
	case err != nil:
		return nil, err
	}

	return &GrantResult{
		User:              code.AuthzUser,
		Scopes:            code.Scopes,
		UserBound:         true,
		IssueRefreshToken: client.AllowsGrant(config.GrantRefreshToken),
		AttachIDToken:     true,
		Nonce:             code.Nonce,
		ACR:               code.ACR,
	}, nil
}

// lookup lee el code del cache y, en miss, del store.
func (g AuthorizationCodeGrant) lookup(ctx context.Context, hash string) (*repository.AuthzCodeRecord, error) {
	if g.Cache != nil {
		if rec, err := g.Cache.GetAuthzCode(ctx, hash); err == nil {
			return rec, nil
		}
	}
	rec, err := g.Store.GetAuthzCode(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, WrapError(CodeInvalidGrant, "Invalid authorization code", err)
	}
	return rec, err
}

func (g AuthorizationCodeGrant) check(code *repository.AuthzCodeRecord, req *TokenRequest, client *repository.ClientApplication) error {
	if code.ConsumerKey != client.ConsumerKey {
		return NewError(CodeInvalidGrant, "Authorization code was issued to another client")
	}
	if code.CallbackURI != "" && req.CallbackURI != code.CallbackURI {
		return NewError(CodeInvalidGrant, "Callback url mismatch")
	}
	if expiredAt(code.IssuedAt, code.ValidityPeriod, g.Now(), g.Skew) {
		return NewError(CodeInvalidGrant, "Expired authorization code")
	}
	return g.verifyPKCE(code, req.CodeVerifier, client)
}

func (g AuthorizationCodeGrant) verifyPKCE(code *repository.AuthzCodeRecord, verifier string, client *repository.ClientApplication) error {
	if !g.PKCE {
		return nil
	}
	if code.CodeChallenge == "" {
		if client.Public {
			return NewError(CodeInvalidGrant, "PKCE is mandatory for public clients")
		}
		return nil
	}
	if verifier == "" {
		return NewError(CodeInvalidGrant, "PKCE validation failed")
	}
	var ok bool
	switch strings.ToUpper(code.CodeChallengeMethod) {
	case PKCEMethodS256:
		ok = subtle.ConstantTimeCompare([]byte(tokens.SHA256Base64URL(verifier)), []byte(code.CodeChallenge)) == 1
	case "", strings.ToUpper(PKCEMethodPlain):
		ok = g.AllowPlain && subtle.ConstantTimeCompare([]byte(verifier), []byte(code.CodeChallenge)) == 1
	}
	if !ok {
		return NewError(CodeInvalidGrant, "PKCE validation failed")
	}
	return nil
}

// ─── refresh_token ───

// RefreshTokenGrant valida un refresh token ACTIVE y no expirado.
type RefreshTokenGrant struct {
	Store repository.TokenStore
	Skew  time.Duration
	Now   func() time.Time
}

func (RefreshTokenGrant) GrantType() string { return config.GrantRefreshToken }

func (g RefreshTokenGrant) Validate(ctx context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error) {
	if req.RefreshToken == "" {
		return nil, NewError(CodeInvalidRequest, "refresh token is required")
	}
	prev, err := g.Store.ValidateRefreshToken(ctx, client.ConsumerKey, tokens.Hash(req.RefreshToken))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, WrapError(CodeInvalidGrant, "Invalid refresh token", err)
	}
	if err != nil {
		return nil, err
	}
	if prev.State != repository.TokenStateActive {
		return nil, NewError(CodeInvalidGrant, "Refresh token is not active")
	}
	if expiredAt(prev.IssuedAt, prev.ValidityPeriod, g.Now(), g.Skew) {
		// best effort: el par queda EXPIRED
		_ = g.Store.ExpireAccessToken(ctx, prev.AccessTokenHash)
		return nil, NewError(CodeInvalidGrant, "Refresh token is expired")
	}

	scopes := prev.Scopes
	if len(req.Scopes) > 0 {
		for _, s := range req.Scopes {
			if !hasScope(prev.Scopes, s) {
				return nil, NewError(CodeInvalidGrant, "Requested scope exceeds the original grant")
			}
		}
		scopes = req.Scopes
	}
	return &GrantResult{
		User:              prev.AuthzUser,
		Scopes:            scopes,
		UserBound:         true,
		IssueRefreshToken: true,
		AttachIDToken:     true,
		Previous:          prev,
	}, nil
}

// ─── urn:ietf:params:oauth:grant-type:jwt-bearer ───

// IssuerResolver resuelve el issuer esperado de un tenant.
type IssuerResolver interface {
	ResolveIssuer(ctx context.Context, tenantDomain string) (string, error)
}

// JWTBearerGrant (RFC 7523) acepta aserciones firmadas con la clave del
// tenant y emitidas por su IdP residente.
type JWTBearerGrant struct {
	Keys      jwt.KeyResolver
	Issuers   IssuerResolver
	Algorithm string
	Skew      time.Duration
	Now       func() time.Time
}

func (JWTBearerGrant) GrantType() string { return config.GrantJWTBearer }

func (g JWTBearerGrant) Validate(ctx context.Context, req *TokenRequest, client *repository.ClientApplication) (*GrantResult, error) {
	if req.Assertion == "" {
		return nil, NewError(CodeInvalidRequest, "assertion is required")
	}
	tenant := tenantOf(req, client)
	if jwt.NormalizeAlg(g.Algorithm) == jwt.AlgNone {
		return nil, NewError(CodeInvalidGrant, "unsigned assertions are not accepted")
	}
	iss, err := g.Issuers.ResolveIssuer(ctx, tenant)
	if err != nil {
		return nil, err
	}
	signer, err := g.Keys.SignerFor(ctx, tenant, g.Algorithm)
	if err != nil {
		return nil, err
	}

	claims, err := jwt.Parse(req.Assertion, signer.PublicKey(), signer.Algorithm(), iss,
		jwtv5.WithLeeway(g.Skew),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(g.Now),
	)
	if err != nil {
		return nil, WrapError(CodeInvalidGrant, "Invalid assertion", err)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && issuedInFuture(iat.Time, g.Now(), g.Skew) {
		return nil, NewError(CodeInvalidGrant, "Assertion issued in the future")
	}
	aud, _ := claims.GetAudience()
	if !hasScope(aud, client.ConsumerKey) && !hasScope(aud, iss) {
		return nil, NewError(CodeInvalidGrant, "Assertion audience mismatch")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, NewError(CodeInvalidGrant, "Assertion has no subject")
	}

	user := repository.ParseUserKey(sub)
	if user.TenantDomain == "" {
		user.TenantDomain = tenant
	}
	return &GrantResult{
		User:      user,
		Scopes:    req.Scopes,
		UserBound: true,
	}, nil
}
