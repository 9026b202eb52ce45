package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	migrations "github.com/dropDatabas3/tokencore/migrations/postgres"
)

// openTestStore conecta contra TEST_PG_DSN y aplica migraciones.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not configured; skipping postgres store tests")
	}
	ctx := context.Background()
	s, err := Connect(ctx, dsn, Config{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = NewMigrator(migrations.FS, migrations.Dir).Run(ctx, s.Pool())
	require.NoError(t, err)
	return s
}

func newPair(client string) *repository.AccessTokenRecord {
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &repository.AccessTokenRecord{
		TokenID:               id,
		ConsumerKey:           client,
		AuthzUser:             repository.AuthenticatedUser{Subject: "alice", UserStoreDomain: "PRIMARY", TenantDomain: "carbon.super", AMR: []string{"pwd"}},
		Scopes:                []string{"openid", "read"},
		AccessToken:           "at-" + id,
		AccessTokenHash:       "ath-" + id,
		RefreshToken:          "rt-" + id,
		RefreshTokenHash:      "rth-" + id,
		IssuedAt:              now,
		ValidityPeriod:        time.Hour,
		RefreshIssuedAt:       now,
		RefreshValidityPeriod: 24 * time.Hour,
		GrantType:             "password",
		TenantDomain:          "carbon.super",
	}
}

func TestPG_StoreGetRevoke(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	client := "client-" + uuid.NewString()

	rec := newPair(client)
	require.NoError(t, s.StoreAccessToken(ctx, rec, ""))
	assert.ErrorIs(t, s.StoreAccessToken(ctx, rec, ""), repository.ErrConflict)

	got, err := s.GetAccessToken(ctx, rec.AccessTokenHash)
	require.NoError(t, err)
	assert.Equal(t, repository.TokenStateActive, got.State)
	assert.Equal(t, rec.AuthzUser.Key(), got.AuthzUser.Key())
	assert.Equal(t, []string{"pwd"}, got.AuthzUser.AMR)
	assert.Equal(t, time.Hour, got.ValidityPeriod)

	latest, err := s.GetLatestAccessToken(ctx, client, rec.AuthzUser.Key(), "openid read")
	require.NoError(t, err)
	assert.Equal(t, rec.TokenID, latest.TokenID)

	n, err := s.RevokeTokens(ctx, rec.AccessTokenHash)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.RevokeTokens(ctx, rec.AccessTokenHash)
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := s.ValidateRefreshToken(ctx, client, rec.RefreshTokenHash)
	require.NoError(t, err)
	assert.Equal(t, repository.TokenStateRevoked, v.State)

	assert.ErrorIs(t, s.ExpireAccessToken(ctx, rec.AccessTokenHash), repository.ErrTokenInactive)
	assert.ErrorIs(t, s.ExpireAccessToken(ctx, "missing"), repository.ErrNotFound)
}

func TestPG_RenewalRetiresOldPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	client := "client-" + uuid.NewString()

	old := newPair(client)
	require.NoError(t, s.StoreAccessToken(ctx, old, ""))
	next := newPair(client)
	require.NoError(t, s.StoreAccessToken(ctx, next, old.AccessTokenHash))

	got, err := s.GetAccessToken(ctx, old.AccessTokenHash)
	require.NoError(t, err)
	assert.Equal(t, repository.TokenStateRevoked, got.State)

	// segunda renovación sobre el par retirado: rollback completo
	third := newPair(client)
	assert.ErrorIs(t, s.StoreAccessToken(ctx, third, old.AccessTokenHash), repository.ErrTokenInactive)
	_, err = s.GetAccessToken(ctx, third.AccessTokenHash)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPG_AuthzCodeConsumeOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	code := &repository.AuthzCodeRecord{
		CodeID: uuid.NewString(), Code: "c", CodeHash: "ch-" + uuid.NewString(),
		ConsumerKey: "client-a", CallbackURI: "https://app/cb",
		AuthzUser: repository.AuthenticatedUser{Subject: "alice"},
		Scopes:    []string{"openid"}, Nonce: "n-1",
		IssuedAt: time.Now(), ValidityPeriod: time.Minute,
	}
	require.NoError(t, s.StoreAuthzCode(ctx, code))

	peek, err := s.GetAuthzCode(ctx, code.CodeHash)
	require.NoError(t, err)
	assert.Equal(t, repository.CodeStateActive, peek.State)
	assert.Equal(t, "https://app/cb", peek.CallbackURI)

	got, err := s.ConsumeAuthzCode(ctx, code.CodeHash)
	require.NoError(t, err)
	assert.Equal(t, repository.CodeStateInactive, got.State)
	assert.Equal(t, "n-1", got.Nonce)

	_, err = s.ConsumeAuthzCode(ctx, code.CodeHash)
	assert.ErrorIs(t, err, repository.ErrTokenInactive)
	_, err = s.ConsumeAuthzCode(ctx, "unknown")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
