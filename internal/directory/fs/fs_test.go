package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

func writeFile(t *testing.T, root, tenant, name, body string) {
	t.Helper()
	dir := filepath.Join(root, "tenants", tenant)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestGetApplication(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "acme.com", "clients.yaml", `
- consumer_key: app-1
  consumer_secret: s3cr3t
  name: App One
  grant_types: password refresh_token
  callback_url: https://app/cb
- consumer_key: off
  disabled: true
`)
	d := New(root)
	ctx := context.Background()

	app, err := d.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "App One", app.ApplicationName)
	assert.Equal(t, "acme.com", app.TenantDomain)
	assert.True(t, app.AllowsGrant("refresh_token"))

	_, err = d.GetApplication(ctx, "off")
	assert.ErrorIs(t, err, repository.ErrInvalidClient)
	_, err = d.GetApplication(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetApplication_EmptyRoot(t *testing.T) {
	_, err := New(t.TempDir()).GetApplication(context.Background(), "x")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpsertClient(t *testing.T) {
	d := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, d.UpsertClient(ctx, repository.ClientApplication{ConsumerKey: "c1", ApplicationName: "v1"}))
	require.NoError(t, d.UpsertClient(ctx, repository.ClientApplication{ConsumerKey: "c1", ApplicationName: "v2"}))

	app, err := d.GetApplication(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "v2", app.ApplicationName)
	assert.Equal(t, DefaultTenant, app.TenantDomain)

	assert.ErrorIs(t, d.UpsertClient(ctx, repository.ClientApplication{}), repository.ErrInvalidInput)
}

func TestAuthenticateAndClaims(t *testing.T) {
	d := New(t.TempDir())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, d.UpsertUser(ctx, "", User{
		Username:        "alice",
		UserStoreDomain: "PRIMARY",
		Claims:          map[string]any{"email": "alice@example.com"},
	}, "pw"))

	u, err := d.Authenticate(ctx, "", "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "PRIMARY/alice@carbon.super", u.Key())
	assert.Equal(t, fixed, u.AuthTime)
	assert.Equal(t, []string{"pwd"}, u.AMR)

	_, err = d.Authenticate(ctx, "", "primary/alice", "pw")
	require.NoError(t, err)

	_, err = d.Authenticate(ctx, "", "alice", "wrong")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)
	_, err = d.Authenticate(ctx, "", "bob", "pw")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)
	_, err = d.Authenticate(ctx, "", "SECONDARY/alice", "pw")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)

	claims, err := d.GetUserClaims(ctx, *u)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims["email"])
}

func TestIdentityProviderAndServiceProviders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, DefaultTenant, "idp.yaml", `
name: LOCAL
federated_authenticators:
  - name: OpenIDConnect
    enabled: true
    properties:
      - name: IdPEntityId
        value: https://idp.example.com/oauth2/token
`)
	writeFile(t, root, DefaultTenant, "service_providers.yaml", `
- name: App One
  client_id: app-1
  use_tenant_domain_in_subject: true
  requested_claims: [email]
`)
	d := New(root)
	ctx := context.Background()

	idp, err := d.GetResidentIdentityProvider(ctx, "")
	require.NoError(t, err)
	iss, ok := idp.FederatedAuthenticator(repository.OIDCAuthenticatorName).Property(repository.IdPEntityIDProperty)
	require.True(t, ok)
	assert.Equal(t, "https://idp.example.com/oauth2/token", iss)

	sp, err := d.GetServiceProviderByClientID(ctx, "app-1", "")
	require.NoError(t, err)
	assert.True(t, sp.UseTenantDomainInSubject)
	assert.Equal(t, []string{"email"}, sp.RequestedClaims)

	_, err = d.GetServiceProviderByClientID(ctx, "app-2", "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = d.GetResidentIdentityProvider(ctx, "other.org")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
