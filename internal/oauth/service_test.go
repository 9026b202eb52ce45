package oauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
)

func TestNew_ConstructionErrors(t *testing.T) {
	base := newFixture(t).deps

	tests := map[string]func(*Deps){
		"no store":              func(d *Deps) { d.Store = nil },
		"no clients":            func(d *Deps) { d.Clients = nil },
		"unknown processor":     func(d *Deps) { d.OAuth.PersistenceProcessor = "rot13" },
		"unknown generator":     func(d *Deps) { d.OAuth.TokenGenerator = "sequence" },
		"encrypted without key": func(d *Deps) { d.OAuth.PersistenceProcessor = "encrypted" },
		"duplicate grant":       func(d *Deps) { d.ExtraGrants = []GrantHandler{ClientCredentialsGrant{}} },
		"grant without handler": func(d *Deps) {
			d.OAuth.GrantTypes = append(d.OAuth.GrantTypes, "urn:example:custom")
		},
		"password without users": func(d *Deps) { d.Users = nil },
		"duplicate response type": func(d *Deps) {
			d.ExtraResponseTypes = []ResponseTypeHandler{CodeHandler{}}
		},
		"id_token without keys": func(d *Deps) {
			d.Keys = nil
			d.OAuth.GrantTypes = []string{config.GrantClientCredentials}
		},
		"bad signature algorithm": func(d *Deps) { d.OIDC.SignatureAlgorithm = "XX256" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			d := base
			mutate(&d)
			_, err := New(d)
			assert.Error(t, err)
		})
	}
}

func TestNew_WithoutSigningKeys(t *testing.T) {
	d := newFixture(t).deps
	d.Keys = nil
	d.OAuth.GrantTypes = []string{config.GrantClientCredentials, config.GrantRefreshToken}
	d.OAuth.ResponseTypes = []string{ResponseTypeCode, ResponseTypeToken}

	svc, err := New(d)
	require.NoError(t, err)
	assert.ElementsMatch(t, d.OAuth.GrantTypes, svc.GrantTypes())

	_, err = svc.BuildIDToken(context.Background(), idContext("openid"))
	var tbe *TokenBuildError
	assert.ErrorAs(t, err, &tbe)
}

func TestNew_EncryptedProcessor(t *testing.T) {
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) {
		d.OAuth.PersistenceProcessor = "encrypted"
		d.Box = box
	})
	resp := f.password("read")

	rec := f.record(resp.AccessToken)
	assert.NotEqual(t, resp.AccessToken, rec.AccessToken)

	// reversible: los headers de revocación llevan los valores crudos
	rv := f.revoke(resp.AccessToken, "")
	require.True(t, rv.Revoked)
	assert.Equal(t, resp.AccessToken, rv.Headers[HeaderRevokedAccessToken])
}

func TestService_ValidateClientInfo(t *testing.T) {
	f := newFixture(t)
	res := f.svc.ValidateClientInfo(context.Background(), "conf", "https://app.example.com/cb")
	assert.True(t, res.Valid)
	assert.True(t, f.svc.IsPKCESupportEnabled())
}

func TestService_NilRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NotPanics(t, func() {
		az := f.svc.Authorize(ctx, nil)
		assert.True(t, az.Failed())
		assert.Equal(t, CodeInvalidRequest, az.ErrorCode)

		tr := f.svc.IssueAccessToken(ctx, nil)
		assert.True(t, tr.Error)
		assert.Equal(t, CodeInvalidRequest, tr.ErrorCode)

		rr := f.svc.RevokeTokenByOAuthClient(ctx, nil)
		assert.True(t, rr.Error)
		assert.Equal(t, CodeInvalidRequest, rr.ErrorCode)
		assert.False(t, rr.Committed)
	})
}
