package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

func sampleRecord() *repository.AccessTokenRecord {
	now := time.Now()
	return &repository.AccessTokenRecord{
		TokenID:               "tid-1",
		ConsumerKey:           "client-a",
		AuthzUser:             repository.AuthenticatedUser{Subject: "alice", UserStoreDomain: "primary", TenantDomain: "carbon.super"},
		Scopes:                []string{"read", "openid"},
		AccessToken:           "at",
		AccessTokenHash:       "at-hash",
		RefreshToken:          "rt",
		RefreshTokenHash:      "rt-hash",
		IssuedAt:              now,
		ValidityPeriod:        time.Hour,
		RefreshIssuedAt:       now,
		RefreshValidityPeriod: 24 * time.Hour,
		State:                 repository.TokenStateActive,
		GrantType:             "password",
	}
}

func TestTokenCache_BothPathsResolveSameRecord(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tc := NewTokenCache(c)
			rec := sampleRecord()
			require.NoError(t, tc.PutAccessToken(ctx, rec))

			byTok, err := tc.GetByToken(ctx, "at-hash")
			require.NoError(t, err)
			byCUS, err := tc.GetByClientUserScope(ctx, "client-a", rec.AuthzUser.Key(), "openid read")
			require.NoError(t, err)

			assert.Equal(t, byTok.TokenID, byCUS.TokenID)
			assert.Equal(t, "PRIMARY/alice@carbon.super", byCUS.AuthzUser.Key())
			assert.Equal(t, repository.TokenStateActive, byTok.State)
		})
	}
}

func TestTokenCache_InvalidateRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			tc := NewTokenCache(c)
			rec := sampleRecord()
			require.NoError(t, tc.PutAccessToken(ctx, rec))
			require.NoError(t, tc.Invalidate(ctx, rec))

			_, err := tc.GetByToken(ctx, rec.AccessTokenHash)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = tc.GetByClientUserScope(ctx, rec.ConsumerKey, rec.AuthzUser.Key(), rec.ScopeString())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTokenCache_DanglingCompositeKeyIsMiss(t *testing.T) {
	ctx := context.Background()
	tc := NewTokenCache(NewMemory("", 0))
	rec := sampleRecord()
	require.NoError(t, tc.PutAccessToken(ctx, rec))
	require.NoError(t, tc.InvalidateToken(ctx, rec.AccessTokenHash))

	_, err := tc.GetByClientUserScope(ctx, rec.ConsumerKey, rec.AuthzUser.Key(), rec.ScopeString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", 0)
	tc := NewTokenCache(c)
	require.NoError(t, c.Set(ctx, TokenKey("bad"), []byte("{not json"), 0))

	_, err := tc.GetByToken(ctx, "bad")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, TokenKey("bad"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenCache_TTLBoundedByExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedis(t)
	tc := NewTokenCache(c, WithMaxTTL(30*time.Minute))
	rec := sampleRecord()
	require.NoError(t, tc.PutAccessToken(ctx, rec))

	ttl := mr.TTL("test:" + TokenKey(rec.AccessTokenHash))
	assert.LessOrEqual(t, ttl, 30*time.Minute)
	assert.Greater(t, ttl, 29*time.Minute)
}

func TestTokenCache_Observer(t *testing.T) {
	ctx := context.Background()
	var hits, misses int
	tc := NewTokenCache(NewMemory("", 0), WithLookupObserver(func(_ string, hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	_, _ = tc.GetByToken(ctx, "x")
	require.NoError(t, tc.PutAccessToken(ctx, sampleRecord()))
	_, _ = tc.GetByToken(ctx, "at-hash")

	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestTokenCache_AuthzCodes(t *testing.T) {
	ctx := context.Background()
	tc := NewTokenCache(NewMemory("", 0))
	code := &repository.AuthzCodeRecord{
		CodeID: "c1", CodeHash: "ch", ConsumerKey: "client-a",
		IssuedAt: time.Now(), ValidityPeriod: time.Minute, State: repository.CodeStateActive,
	}
	require.NoError(t, tc.PutAuthzCode(ctx, code))

	got, err := tc.GetAuthzCode(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CodeID)

	require.NoError(t, tc.DeleteAuthzCode(ctx, "ch"))
	_, err = tc.GetAuthzCode(ctx, "ch")
	assert.ErrorIs(t, err, ErrNotFound)
}
