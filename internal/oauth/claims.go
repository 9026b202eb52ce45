package oauth

import (
	"context"
	"errors"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// scopeClaims son los claims estándar OIDC liberados por cada scope (OIDC Core §5.4).
var scopeClaims = map[string][]string{
	"profile": {
		"name", "family_name", "given_name", "middle_name", "nickname", "preferred_username",
		"profile", "picture", "website", "gender", "birthdate", "zoneinfo", "locale", "updated_at",
	},
	"email":   {"email", "email_verified"},
	"phone":   {"phone_number", "phone_number_verified"},
	"address": {"address"},
}

// UserClaimsCallback libera atributos del usuario según los scopes y, si el
// service provider pide claims explícitos, solo esos.
type UserClaimsCallback struct {
	Users repository.UserClaimsSource
	Apps  repository.ApplicationDirectory
}

func (c UserClaimsCallback) CustomClaims(ctx context.Context, ictx *IDTokenContext) (map[string]any, error) {
	if c.Users == nil {
		return nil, nil
	}
	allowed := map[string]struct{}{}
	for _, s := range ictx.Scopes {
		for _, name := range scopeClaims[s] {
			allowed[name] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, nil
	}

	if c.Apps != nil {
		sp, err := c.Apps.GetServiceProviderByClientID(ctx, ictx.ConsumerKey, ictx.TenantDomain)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, err
		case sp != nil && len(sp.RequestedClaims) > 0:
			requested := make(map[string]struct{}, len(sp.RequestedClaims))
			for _, r := range sp.RequestedClaims {
				requested[r] = struct{}{}
			}
			for name := range allowed {
				if _, ok := requested[name]; !ok {
					delete(allowed, name)
				}
			}
		}
	}

	attrs, err := c.Users.GetUserClaims(ctx, ictx.User)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	for name := range allowed {
		if v, ok := attrs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
