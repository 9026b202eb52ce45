package oauth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
)

func idContext(scopes ...string) IDTokenContext {
	return IDTokenContext{
		ConsumerKey:  "conf",
		TenantDomain: testTenant,
		User:         *alice(),
		Scopes:       scopes,
		Nonce:        "abc",
	}
}

func TestBuildIDToken_StandardClaims(t *testing.T) {
	f := newFixture(t)
	ictx := idContext("openid")
	ictx.ACR = "urn:mace:incommon:iap:silver"
	ictx.AuthorizationCode = "SplxlOBeZQQYbYS6WxSbIA"
	ictx.Audiences = []string{"api://orders", "conf"}

	tok, err := f.svc.BuildIDToken(context.Background(), ictx)
	require.NoError(t, err)
	claims := f.parseIDToken(tok)

	assert.Equal(t, testIssuer, claims["iss"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, []any{"conf", "api://orders"}, claims["aud"])
	assert.Equal(t, "conf", claims["azp"])
	assert.Equal(t, "abc", claims["nonce"])
	assert.Equal(t, ictx.ACR, claims["acr"])
	assert.Equal(t, []any{"pwd"}, claims["amr"])
	assert.EqualValues(t, f.clock.Now().Unix(), claims["iat"])
	assert.EqualValues(t, f.clock.Now().Unix()+3600, claims["exp"])

	want, err := jwt.HalfHash(testAlg, ictx.AuthorizationCode)
	require.NoError(t, err)
	assert.Equal(t, want, claims["c_hash"])
	assert.NotContains(t, claims, "at_hash")
}

func TestBuildIDToken_UnresolvableIdentityProvider(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Identity = fakeIdentity{err: errors.New("idp store down")} })

	_, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
	var tbe *TokenBuildError
	require.ErrorAs(t, err, &tbe)
	assert.Contains(t, tbe.Reason, "unresolvable")
}

func TestBuildIDToken_IssuerFallback(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Identity = fakeIdentity{issuer: ""}
		d.OIDC.DefaultAuthenticators = map[string]map[string]string{
			repository.OIDCAuthenticatorName: {repository.IdPEntityIDProperty: "https://fallback/token"},
		}
	})
	tok, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
	require.NoError(t, err)

	signer, err := f.keys.SignerFor(context.Background(), testTenant, testAlg)
	require.NoError(t, err)
	claims, err := jwt.Parse(tok, signer.PublicKey(), testAlg, "https://fallback/token")
	require.NoError(t, err)
	assert.Equal(t, "https://fallback/token", claims["iss"])
}

func TestBuildIDToken_NoIssuer(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Identity = fakeIdentity{issuer: ""} })
	_, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
	var tbe *TokenBuildError
	assert.ErrorAs(t, err, &tbe)
}

func TestBuildIDToken_SubjectFromServiceProvider(t *testing.T) {
	tests := []struct {
		name string
		sp   *repository.ServiceProviderConfig
		want string
	}{
		{"plain", &repository.ServiceProviderConfig{}, "alice"},
		{"tenant", &repository.ServiceProviderConfig{UseTenantDomainInSubject: true}, "alice@carbon.super"},
		{"user store", &repository.ServiceProviderConfig{UseUserStoreDomainInSubject: true}, "PRIMARY/alice"},
		{"both", &repository.ServiceProviderConfig{UseTenantDomainInSubject: true, UseUserStoreDomainInSubject: true}, "PRIMARY/alice@carbon.super"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.Applications = fakeApps{"conf": tt.sp} })
			tok, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.parseIDToken(tok)["sub"])
		})
	}
}

func TestBuildIDToken_ClaimsReleasedByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.BuildIDToken(ctx, idContext("openid"))
	require.NoError(t, err)
	claims := f.parseIDToken(tok)
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "given_name")

	tok, err = f.svc.BuildIDToken(ctx, idContext("openid", "email"))
	require.NoError(t, err)
	claims = f.parseIDToken(tok)
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.NotContains(t, claims, "given_name")
	assert.NotContains(t, claims, "phone_number")

	tok, err = f.svc.BuildIDToken(ctx, idContext("openid", "email", "profile"))
	require.NoError(t, err)
	claims = f.parseIDToken(tok)
	assert.Equal(t, "Alice", claims["given_name"])
}

func TestBuildIDToken_RequestedClaimsFilter(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Applications = fakeApps{"conf": {RequestedClaims: []string{"email"}}}
	})
	tok, err := f.svc.BuildIDToken(context.Background(), idContext("openid", "email", "profile"))
	require.NoError(t, err)
	claims := f.parseIDToken(tok)
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.NotContains(t, claims, "given_name")
}

func TestBuildIDToken_CustomClaimsCannotOverrideReserved(t *testing.T) {
	cb := ClaimsCallbackFunc(func(_ context.Context, ictx *IDTokenContext) (map[string]any, error) {
		return map[string]any{"sub": "mallory", "iss": "https://evil", "tenant": ictx.TenantDomain}, nil
	})
	f := newFixture(t, func(d *Deps) { d.ClaimsCallback = cb })

	tok, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
	require.NoError(t, err)
	claims := f.parseIDToken(tok)
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, testIssuer, claims["iss"])
	assert.Equal(t, testTenant, claims["tenant"])
}

func TestBuildIDToken_ClaimsCallbackFailure(t *testing.T) {
	cb := ClaimsCallbackFunc(func(context.Context, *IDTokenContext) (map[string]any, error) {
		return nil, errors.New("ldap timeout")
	})
	f := newFixture(t, func(d *Deps) { d.ClaimsCallback = cb })

	_, err := f.svc.BuildIDToken(context.Background(), idContext("openid"))
	var tbe *TokenBuildError
	assert.ErrorAs(t, err, &tbe)
}

func TestBuildIDToken_MissingTenantKey(t *testing.T) {
	f := newFixture(t)
	b, err := NewIDTokenBuilder(f.deps.OIDC, jwt.NewStaticResolver(nil), fakeIdentity{issuer: testIssuer}, nil, nil)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), idContext("openid"))
	var tbe *TokenBuildError
	assert.ErrorAs(t, err, &tbe)
}

func TestNewIDTokenBuilder_Validation(t *testing.T) {
	_, ic := testConfig()
	keys := jwt.NewStaticResolver(nil)

	bad := ic
	bad.SignatureAlgorithm = "HS999"
	_, err := NewIDTokenBuilder(bad, keys, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewIDTokenBuilder(ic, nil, nil, nil, nil)
	assert.Error(t, err)

	b, err := NewIDTokenBuilder(config.OIDC{SignatureAlgorithm: "es256", IDTokenExpirySeconds: 60}, keys, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, jwt.AlgES256, b.Algorithm())
}
