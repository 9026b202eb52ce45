package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/store/memory"
)

const (
	testTenant = "carbon.super"
	testIssuer = "https://localhost:9443/oauth2/token"
	testAlg    = jwt.AlgES256
)

// ─── fakes ───

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Now().Truncate(time.Second)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeClients map[string]*repository.ClientApplication

func (f fakeClients) GetApplication(_ context.Context, key string) (*repository.ClientApplication, error) {
	app, ok := f[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

type mockClients struct{ mock.Mock }

func (m *mockClients) GetApplication(ctx context.Context, key string) (*repository.ClientApplication, error) {
	args := m.Called(ctx, key)
	app, _ := args.Get(0).(*repository.ClientApplication)
	return app, args.Error(1)
}

type fakeUsers struct {
	passwords map[string]string
	claims    map[string]map[string]any
}

func (f fakeUsers) Authenticate(_ context.Context, tenant, username, password string) (*repository.AuthenticatedUser, error) {
	if p, ok := f.passwords[username]; !ok || p != password {
		return nil, repository.ErrInvalidCredentials
	}
	return &repository.AuthenticatedUser{Subject: username, UserStoreDomain: "PRIMARY", TenantDomain: tenant, AMR: []string{"pwd"}}, nil
}

func (f fakeUsers) GetUserClaims(_ context.Context, user repository.AuthenticatedUser) (map[string]any, error) {
	c, ok := f.claims[user.Subject]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type fakeIdentity struct {
	issuer string
	err    error
}

func (f fakeIdentity) GetResidentIdentityProvider(context.Context, string) (*repository.IdentityProviderConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &repository.IdentityProviderConfig{
		Name: "LOCAL",
		FederatedAuthenticators: []repository.FederatedAuthenticatorConfig{{
			Name:       repository.OIDCAuthenticatorName,
			Enabled:    true,
			Properties: []repository.Property{{Name: repository.IdPEntityIDProperty, Value: f.issuer}},
		}},
	}, nil
}

type fakeApps map[string]*repository.ServiceProviderConfig

func (f fakeApps) GetServiceProviderByClientID(_ context.Context, clientID, _ string) (*repository.ServiceProviderConfig, error) {
	sp, ok := f[clientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sp, nil
}

type mockInterceptor struct{ mock.Mock }

func (m *mockInterceptor) Enabled() bool { return true }

func (m *mockInterceptor) OnPreTokenRevocationByClient(ctx context.Context, req *RevocationRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockInterceptor) OnPostTokenRevocationByClient(ctx context.Context, req *RevocationRequest, resp *RevocationResponse,
	access *repository.AccessTokenRecord, refresh *repository.RefreshTokenValidationRecord) error {
	return m.Called(ctx, req, resp, access, refresh).Error(0)
}

// ─── fixture ───

func testClients() fakeClients {
	return fakeClients{
		"conf": {
			ConsumerKey:    "conf",
			ConsumerSecret: "s3cret",
			GrantTypes:     "password client_credentials authorization_code refresh_token implicit urn:ietf:params:oauth:grant-type:jwt-bearer",
			CallbackURL:    "https://app.example.com/cb",
			Owner:          "admin",
			TenantDomain:   testTenant,
		},
		"regex": {
			ConsumerKey:    "regex",
			ConsumerSecret: "s3cret",
			GrantTypes:     "authorization_code",
			CallbackURL:    `regexp=https://(www\.)?example\.com/cb/\d+`,
			TenantDomain:   testTenant,
		},
		"public": {
			ConsumerKey:  "public",
			GrantTypes:   "authorization_code refresh_token client_credentials",
			CallbackURL:  "https://spa.example.com/cb",
			Public:       true,
			TenantDomain: testTenant,
		},
		"cc-only": {
			ConsumerKey:    "cc-only",
			ConsumerSecret: "other",
			GrantTypes:     "client_credentials",
			TenantDomain:   testTenant,
		},
		"no-grants": {
			ConsumerKey:    "no-grants",
			ConsumerSecret: "x",
			CallbackURL:    "https://x.example.com/cb",
			TenantDomain:   testTenant,
		},
	}
}

type fixture struct {
	t     *testing.T
	svc   *Service
	deps  Deps
	store *memory.Store
	cache *cache.TokenCache
	clock *clock
	keys  *jwt.StaticResolver
}

func testConfig() (config.OAuth, config.OIDC) {
	c := config.Default()
	c.OIDC.SignatureAlgorithm = testAlg
	return c.OAuth, c.OIDC
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	ks, err := jwt.GenerateKeySet(testAlg, "k1")
	require.NoError(t, err)
	keys := jwt.NewStaticResolver(ks)

	oc, ic := testConfig()
	clk := newClock()
	st := memory.New()
	tc := cache.NewTokenCache(cache.NewMemory("test", time.Minute))
	users := fakeUsers{
		passwords: map[string]string{"alice": "pw"},
		claims:    map[string]map[string]any{"alice": {"email": "alice@example.com", "given_name": "Alice", "phone_number": "+1"}},
	}

	d := Deps{
		OAuth:        oc,
		OIDC:         ic,
		Store:        st,
		Cache:        tc,
		Clients:      testClients(),
		Identity:     fakeIdentity{issuer: testIssuer},
		Applications: fakeApps{},
		Users:        users,
		Claims:       users,
		Keys:         keys,
		Now:          clk.Now,
	}
	for _, m := range mutate {
		m(&d)
	}
	svc, err := New(d)
	require.NoError(t, err)
	return &fixture{t: t, svc: svc, deps: d, store: st, cache: tc, clock: clk, keys: keys}
}

func (f *fixture) password(scopes ...string) *TokenResponse {
	f.t.Helper()
	resp := f.svc.IssueAccessToken(context.Background(), &TokenRequest{
		GrantType:      config.GrantPassword,
		ConsumerKey:    "conf",
		ConsumerSecret: "s3cret",
		Username:       "alice",
		Password:       "pw",
		Scopes:         scopes,
	})
	require.False(f.t, resp.Error, "%s: %s", resp.ErrorCode, resp.ErrorMsg)
	return resp
}

func (f *fixture) parseIDToken(tok string) jwtv5.MapClaims {
	f.t.Helper()
	signer, err := f.keys.SignerFor(context.Background(), testTenant, testAlg)
	require.NoError(f.t, err)
	claims, err := jwt.Parse(tok, signer.PublicKey(), testAlg, testIssuer, jwtv5.WithTimeFunc(f.clock.Now))
	require.NoError(f.t, err)
	return claims
}

func mustBcrypt(t *testing.T, s string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.MinCost)
	require.NoError(t, err)
	return string(b)
}
