package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	tokens "github.com/dropDatabas3/tokencore/internal/security/token"
)

func (f *fixture) revoke(token, hint string) *RevocationResponse {
	return f.svc.RevokeTokenByOAuthClient(context.Background(), &RevocationRequest{
		ConsumerKey:    "conf",
		ConsumerSecret: "s3cret",
		Token:          token,
		TokenTypeHint:  hint,
	})
}

func TestRevoke_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	for _, req := range []*RevocationRequest{
		{ConsumerKey: "", Token: "x"},
		{ConsumerKey: "conf", ConsumerSecret: "s3cret", Token: ""},
	} {
		resp := f.svc.RevokeTokenByOAuthClient(context.Background(), req)
		assert.True(t, resp.Error)
		assert.Equal(t, CodeInvalidRequest, resp.ErrorCode)
		assert.Equal(t, MsgInvalidRevocationRequest, resp.ErrorMsg)
		assert.False(t, resp.Committed)
	}
}

func TestRevoke_AccessTokenCascadesToRefresh(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")

	resp := f.revoke(issued.AccessToken, HintAccessToken)
	require.False(t, resp.Error, resp.ErrorMsg)
	assert.True(t, resp.Revoked)
	assert.True(t, resp.Committed)
	assert.Equal(t, repository.TokenStateRevoked, f.record(issued.AccessToken).State)

	// el refresh cayó con el access token
	r := f.refresh(issued.RefreshToken)
	assert.True(t, r.Error)
	assert.Equal(t, CodeInvalidGrant, r.ErrorCode)
}

func TestRevoke_ByRefreshToken(t *testing.T) {
	for _, hint := range []string{HintRefreshToken, HintAccessToken, ""} {
		t.Run("hint="+hint, func(t *testing.T) {
			f := newFixture(t)
			issued := f.password("read")

			resp := f.revoke(issued.RefreshToken, hint)
			require.False(t, resp.Error, resp.ErrorMsg)
			assert.True(t, resp.Revoked)
			assert.Equal(t, repository.TokenStateRevoked, f.record(issued.AccessToken).State)
		})
	}
}

func TestRevoke_AccessTokenWithRefreshHint(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")

	resp := f.revoke(issued.AccessToken, HintRefreshToken)
	require.False(t, resp.Error)
	assert.True(t, resp.Revoked)
}

func TestRevoke_Idempotent(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")

	first := f.revoke(issued.AccessToken, "")
	require.True(t, first.Revoked)

	second := f.revoke(issued.AccessToken, "")
	assert.False(t, second.Error)
	assert.False(t, second.Revoked)
	assert.Equal(t, repository.TokenStateRevoked, f.record(issued.AccessToken).State)
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	f := newFixture(t)
	resp := f.revoke("never-issued", "")
	assert.False(t, resp.Error)
	assert.False(t, resp.Revoked)
	assert.Nil(t, resp.Headers)
}

func TestRevoke_ExpiredTokenStaysExpired(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")
	require.NoError(t, f.store.ExpireAccessToken(context.Background(), tokens.Hash(issued.AccessToken)))

	resp := f.revoke(issued.AccessToken, "")
	assert.False(t, resp.Error)
	assert.False(t, resp.Revoked)
	assert.Equal(t, repository.TokenStateExpired, f.record(issued.AccessToken).State)
}

func TestRevoke_UnauthorizedClient(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")
	ctx := context.Background()

	tests := map[string]*RevocationRequest{
		"bad secret":     {ConsumerKey: "conf", ConsumerSecret: "nope", Token: issued.AccessToken},
		"unknown client": {ConsumerKey: "ghost", ConsumerSecret: "x", Token: issued.AccessToken},
		"foreign token":  {ConsumerKey: "cc-only", ConsumerSecret: "other", Token: issued.AccessToken},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			resp := f.svc.RevokeTokenByOAuthClient(ctx, req)
			assert.True(t, resp.Error)
			assert.Equal(t, CodeUnauthorizedClient, resp.ErrorCode)
			assert.Equal(t, MsgUnauthorizedClient, resp.ErrorMsg)
		})
	}
	assert.Equal(t, repository.TokenStateActive, f.record(issued.AccessToken).State)
}

func TestRevoke_ClientLookupFailure(t *testing.T) {
	m := &mockClients{}
	m.On("GetApplication", mock.Anything, "conf").Return(nil, errors.New("db down"))
	f := newFixture(t, func(d *Deps) { d.Clients = m })

	resp := f.revoke("whatever", "")
	assert.Equal(t, CodeServerError, resp.ErrorCode)
	assert.Equal(t, MsgRevocationFailed, resp.ErrorMsg)
}

func TestRevoke_PreHookFailureAborts(t *testing.T) {
	ic := &mockInterceptor{}
	ic.On("OnPreTokenRevocationByClient", mock.Anything, mock.Anything).Return(errors.New("denied"))
	f := newFixture(t, func(d *Deps) { d.Interceptor = ic })
	issued := f.password("read")

	resp := f.revoke(issued.AccessToken, "")
	assert.True(t, resp.Error)
	assert.Equal(t, CodeServerError, resp.ErrorCode)
	assert.Equal(t, MsgRevocationFailed, resp.ErrorMsg)
	assert.False(t, resp.Committed)
	assert.Equal(t, repository.TokenStateActive, f.record(issued.AccessToken).State)
	ic.AssertNotCalled(t, "OnPostTokenRevocationByClient", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRevoke_PostHookFailurePolicy(t *testing.T) {
	tests := []struct {
		policy    string
		wantError bool
	}{
		{"report", true},
		{"ignore", false},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			ic := &mockInterceptor{}
			ic.On("OnPreTokenRevocationByClient", mock.Anything, mock.Anything).Return(nil)
			ic.On("OnPostTokenRevocationByClient", mock.Anything, mock.Anything, mock.Anything,
				mock.MatchedBy(func(a *repository.AccessTokenRecord) bool {
					return a != nil && a.State == repository.TokenStateRevoked
				}), mock.Anything).Return(errors.New("audit sink down"))

			f := newFixture(t, func(d *Deps) {
				d.Interceptor = ic
				d.OAuth.Revocation.PostHookFailure = tt.policy
			})
			issued := f.password("read")

			resp := f.revoke(issued.AccessToken, "")
			assert.Equal(t, tt.wantError, resp.Error)
			assert.True(t, resp.Committed)
			assert.True(t, resp.Revoked)
			if tt.wantError {
				assert.Equal(t, MsgRevocationFailed, resp.ErrorMsg)
			}
			assert.Equal(t, repository.TokenStateRevoked, f.record(issued.AccessToken).State)
			ic.AssertExpectations(t)
		})
	}
}

func TestRevoke_ResponseHeaders(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")

	resp := f.revoke(issued.AccessToken, "")
	require.True(t, resp.Revoked)
	assert.Equal(t, map[string]string{
		HeaderRevokedAccessToken:  issued.AccessToken,
		HeaderRevokedRefreshToken: issued.RefreshToken,
		HeaderAuthorizedUser:      "PRIMARY/alice@carbon.super",
	}, resp.Headers)
}

func TestRevoke_HeadersWithIrreversibleProcessor(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.OAuth.PersistenceProcessor = "hashing" })
	issued := f.password("read")

	resp := f.revoke(issued.AccessToken, "")
	require.True(t, resp.Revoked)
	assert.Equal(t, map[string]string{HeaderAuthorizedUser: "PRIMARY/alice@carbon.super"}, resp.Headers)
}

func TestRevoke_HeadersDisabled(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.OAuth.Revocation.ResponseHeaders = false })
	issued := f.password("read")
	resp := f.revoke(issued.AccessToken, "")
	require.True(t, resp.Revoked)
	assert.Nil(t, resp.Headers)
}

func TestRevoke_InvalidatesCache(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.OAuth.CacheEnabled = true })
	issued := f.password("read")
	ctx := context.Background()

	_, err := f.cache.GetByToken(ctx, tokens.Hash(issued.AccessToken))
	require.NoError(t, err)

	resp := f.revoke(issued.AccessToken, "")
	require.True(t, resp.Revoked)

	_, err = f.cache.GetByToken(ctx, tokens.Hash(issued.AccessToken))
	assert.Error(t, err)
	_, err = f.cache.GetByClientUserScope(ctx, "conf", "PRIMARY/alice@carbon.super", "read")
	assert.Error(t, err)
}

func TestRevoke_ConcurrentRevokesCommitOnce(t *testing.T) {
	f := newFixture(t)
	issued := f.password("read")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		revoked int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := f.revoke(issued.AccessToken, "")
			assert.False(t, resp.Error)
			if resp.Revoked {
				mu.Lock()
				revoked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, revoked)
}

func TestLoggingInterceptorNeverFails(t *testing.T) {
	ic := Chain{LoggingInterceptor{}, nil}
	ctx := context.Background()
	req := &RevocationRequest{ConsumerKey: "conf", Token: "x"}
	assert.True(t, ic.Enabled())
	assert.NoError(t, ic.OnPreTokenRevocationByClient(ctx, req))
	assert.NoError(t, ic.OnPostTokenRevocationByClient(ctx, req, &RevocationResponse{Revoked: true}, &repository.AccessTokenRecord{TokenID: "t"}, nil))
}

func TestChainJoinsPostErrors(t *testing.T) {
	a, b := &mockInterceptor{}, &mockInterceptor{}
	a.On("OnPostTokenRevocationByClient", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("a"))
	b.On("OnPostTokenRevocationByClient", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("b"))

	err := Chain{a, b}.OnPostTokenRevocationByClient(context.Background(), &RevocationRequest{}, &RevocationResponse{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}
