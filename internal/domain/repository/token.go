package repository

import (
	"context"
	"sort"
	"strings"
	"time"
)

// TokenState es el estado de un par access/refresh token.
// Las transiciones son monótonas: ACTIVE → EXPIRED | REVOKED.
type TokenState string

const (
	TokenStateActive  TokenState = "ACTIVE"
	TokenStateExpired TokenState = "EXPIRED"
	TokenStateRevoked TokenState = "REVOKED"
)

// Terminal reporta si el estado es absorbente.
func (s TokenState) Terminal() bool {
	return s == TokenStateExpired || s == TokenStateRevoked
}

// CanTransition reporta si s → to es una transición válida.
func (s TokenState) CanTransition(to TokenState) bool {
	return s == TokenStateActive && to.Terminal()
}

// CodeState es el estado de un authorization code.
type CodeState string

const (
	CodeStateActive   CodeState = "ACTIVE"
	CodeStateInactive CodeState = "INACTIVE" // consumido
	CodeStateExpired  CodeState = "EXPIRED"
)

// AuthenticatedUser identifica al dueño de un token.
type AuthenticatedUser struct {
	Subject         string `json:"sub"`
	UserStoreDomain string `json:"user_store_domain,omitempty"`
	TenantDomain    string `json:"tenant_domain,omitempty"`
	// AuthTime es el momento de la autenticación (para auth_time).
	AuthTime time.Time `json:"auth_time,omitempty"`
	AMR      []string  `json:"amr,omitempty"`
}

// Key devuelve la representación canónica usada en stores y cache keys:
// [USERSTORE/]subject[@tenant].
func (u AuthenticatedUser) Key() string {
	var b strings.Builder
	if u.UserStoreDomain != "" {
		b.WriteString(strings.ToUpper(u.UserStoreDomain))
		b.WriteByte('/')
	}
	b.WriteString(u.Subject)
	if u.TenantDomain != "" {
		b.WriteByte('@')
		b.WriteString(u.TenantDomain)
	}
	return b.String()
}

func (u AuthenticatedUser) String() string { return u.Key() }

// ParseUserKey es la inversa de Key.
func ParseUserKey(key string) AuthenticatedUser {
	var u AuthenticatedUser
	if i := strings.Index(key, "/"); i >= 0 {
		u.UserStoreDomain = key[:i]
		key = key[i+1:]
	}
	if i := strings.LastIndex(key, "@"); i >= 0 {
		u.TenantDomain = key[i+1:]
		key = key[:i]
	}
	u.Subject = key
	return u
}

// AccessTokenRecord es la fila autoritativa de un par access/refresh token.
// AccessToken y RefreshToken están en forma persistida (ver token.PersistenceProcessor);
// los lookups usan siempre los hashes.
type AccessTokenRecord struct {
	TokenID               string            `json:"token_id"`
	ConsumerKey           string            `json:"consumer_key"`
	AuthzUser             AuthenticatedUser `json:"authz_user"`
	Scopes                []string          `json:"scopes"`
	AccessToken           string            `json:"access_token"`
	AccessTokenHash       string            `json:"access_token_hash"`
	RefreshToken          string            `json:"refresh_token,omitempty"`
	RefreshTokenHash      string            `json:"refresh_token_hash,omitempty"`
	IssuedAt              time.Time         `json:"issued_at"`
	ValidityPeriod        time.Duration     `json:"validity_period"`
	RefreshIssuedAt       time.Time         `json:"refresh_issued_at,omitempty"`
	RefreshValidityPeriod time.Duration     `json:"refresh_validity_period,omitempty"`
	State                 TokenState        `json:"state"`
	GrantType             string            `json:"grant_type"`
	TenantDomain          string            `json:"tenant_domain,omitempty"`
}

// ExpiresAt devuelve el fin de validez del access token.
func (r *AccessTokenRecord) ExpiresAt() time.Time { return r.IssuedAt.Add(r.ValidityPeriod) }

// RefreshExpiresAt devuelve el fin de validez del refresh token.
func (r *AccessTokenRecord) RefreshExpiresAt() time.Time {
	return r.RefreshIssuedAt.Add(r.RefreshValidityPeriod)
}

// ScopeString devuelve los scopes ordenados como string (forma canónica).
func (r *AccessTokenRecord) ScopeString() string { return ScopeString(r.Scopes) }

// HasRefreshToken reporta si el par tiene refresh token.
func (r *AccessTokenRecord) HasRefreshToken() bool { return r.RefreshTokenHash != "" }

// RefreshTokenValidationRecord es la vista del store usada para validar
// (y revocar) un refresh token.
type RefreshTokenValidationRecord struct {
	TokenID          string            `json:"token_id"`
	ConsumerKey      string            `json:"consumer_key"`
	AccessTokenHash  string            `json:"access_token_hash"`
	AccessToken      string            `json:"access_token"`
	RefreshToken     string            `json:"refresh_token"`
	RefreshTokenHash string            `json:"refresh_token_hash"`
	GrantType        string            `json:"grant_type"`
	AuthzUser        AuthenticatedUser `json:"authz_user"`
	Scopes           []string          `json:"scopes"`
	IssuedAt         time.Time         `json:"issued_at"`
	ValidityPeriod   time.Duration     `json:"validity_period"`
	State            TokenState        `json:"state"`
	TenantDomain     string            `json:"tenant_domain,omitempty"`
}

// ExpiresAt devuelve el fin de validez del refresh token.
func (r *RefreshTokenValidationRecord) ExpiresAt() time.Time {
	return r.IssuedAt.Add(r.ValidityPeriod)
}

// AuthzCodeRecord es un authorization code emitido por el authorize endpoint.
type AuthzCodeRecord struct {
	CodeID              string            `json:"code_id"`
	Code                string            `json:"code"`
	CodeHash            string            `json:"code_hash"`
	ConsumerKey         string            `json:"consumer_key"`
	CallbackURI         string            `json:"callback_uri"`
	AuthzUser           AuthenticatedUser `json:"authz_user"`
	Scopes              []string          `json:"scopes"`
	Nonce               string            `json:"nonce,omitempty"`
	ACR                 string            `json:"acr,omitempty"`
	IssuedAt            time.Time         `json:"issued_at"`
	ValidityPeriod      time.Duration     `json:"validity_period"`
	State               CodeState         `json:"state"`
	CodeChallenge       string            `json:"code_challenge,omitempty"`
	CodeChallengeMethod string            `json:"code_challenge_method,omitempty"`
	TenantDomain        string            `json:"tenant_domain,omitempty"`
}

// ExpiresAt devuelve el fin de validez del code.
func (r *AuthzCodeRecord) ExpiresAt() time.Time { return r.IssuedAt.Add(r.ValidityPeriod) }

// TokenStore es el almacenamiento durable y transaccional de tokens.
//
// Todas las transiciones de estado son compare-and-set desde ACTIVE; un
// registro EXPIRED o REVOKED nunca vuelve a ACTIVE.
type TokenStore interface {
	// StoreAccessToken persiste un par nuevo. Si retireAccessTokenHash no está
	// vacío, el par anterior pasa a REVOKED en la misma transacción
	// (renovación por refresh_token).
	StoreAccessToken(ctx context.Context, rec *AccessTokenRecord, retireAccessTokenHash string) error

	// GetAccessToken busca por hash del access token, en cualquier estado.
	// Retorna ErrNotFound si no existe.
	GetAccessToken(ctx context.Context, accessTokenHash string) (*AccessTokenRecord, error)

	// GetLatestAccessToken devuelve el par más reciente para (client, user, scope).
	GetLatestAccessToken(ctx context.Context, consumerKey, userKey, scope string) (*AccessTokenRecord, error)

	// ValidateRefreshToken devuelve el par más reciente que contiene el refresh
	// token para ese cliente. Retorna ErrNotFound si no existe.
	ValidateRefreshToken(ctx context.Context, consumerKey, refreshTokenHash string) (*RefreshTokenValidationRecord, error)

	// ExpireAccessToken marca ACTIVE → EXPIRED. Retorna ErrTokenInactive si
	// el par ya no estaba ACTIVE.
	ExpireAccessToken(ctx context.Context, accessTokenHash string) error

	// RevokeTokens marca ACTIVE → REVOKED todos los pares indicados en una
	// transacción (access y refresh token caen juntos). Devuelve cuántos
	// cambiaron de estado.
	RevokeTokens(ctx context.Context, accessTokenHashes ...string) (int, error)

	// StoreAuthzCode persiste un code nuevo.
	StoreAuthzCode(ctx context.Context, rec *AuthzCodeRecord) error

	// GetAuthzCode devuelve el code sin consumirlo, en cualquier estado.
	// Retorna ErrNotFound si no existe.
	GetAuthzCode(ctx context.Context, codeHash string) (*AuthzCodeRecord, error)

	// ConsumeAuthzCode marca el code ACTIVE → INACTIVE atómicamente y lo
	// devuelve. Retorna ErrNotFound o ErrTokenInactive (replay).
	ConsumeAuthzCode(ctx context.Context, codeHash string) (*AuthzCodeRecord, error)
}

// ScopeString normaliza una lista de scopes (orden estable, sin duplicados).
func ScopeString(scopes []string) string {
	return strings.Join(NormalizeScopes(scopes), " ")
}

// NormalizeScopes ordena y deduplica scopes.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseScope parte un scope string OAuth (separado por espacios).
func ParseScope(s string) []string {
	return NormalizeScopes(strings.Fields(s))
}
