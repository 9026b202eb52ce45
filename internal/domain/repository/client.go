package repository

import (
	"context"
	"strings"
)

// CallbackRegexPrefix marca un callback registrado como expresión regular.
const CallbackRegexPrefix = "regexp="

// ClientApplication es una aplicación OAuth registrada. Inmutable por request.
type ClientApplication struct {
	ConsumerKey     string `yaml:"consumer_key" json:"consumer_key"`
	ConsumerSecret  string `yaml:"consumer_secret" json:"consumer_secret"` // plano o hash bcrypt
	ApplicationName string `yaml:"name" json:"name"`
	// GrantTypes es la lista separada por espacios tal como se registró.
	GrantTypes   string `yaml:"grant_types" json:"grant_types"`
	CallbackURL  string `yaml:"callback_url" json:"callback_url"`
	Owner        string `yaml:"owner" json:"owner"`
	TenantDomain string `yaml:"tenant_domain" json:"tenant_domain"`
	Public       bool   `yaml:"public" json:"public"` // sin secret, requiere PKCE
	Disabled     bool   `yaml:"disabled" json:"disabled"`
	// Audiences se agregan al aud del ID token.
	Audiences []string `yaml:"audiences" json:"audiences,omitempty"`
}

// GrantTypeSet parsea GrantTypes a un set.
func (c *ClientApplication) GrantTypeSet() map[string]struct{} {
	out := map[string]struct{}{}
	for _, g := range strings.Fields(c.GrantTypes) {
		out[g] = struct{}{}
	}
	return out
}

// AllowsGrant reporta si el cliente tiene habilitado el grant type.
func (c *ClientApplication) AllowsGrant(grantType string) bool {
	_, ok := c.GrantTypeSet()[grantType]
	return ok
}

// CallbackIsRegex reporta si el callback registrado es un patrón.
func (c *ClientApplication) CallbackIsRegex() bool {
	return strings.HasPrefix(c.CallbackURL, CallbackRegexPrefix)
}

// ClientDirectory resuelve aplicaciones por consumer key.
//
// GetApplication retorna ErrNotFound si no existe, ErrInvalidClient si está
// deshabilitada o el fallo es recuperable; cualquier otro error es un fallo
// del lookup.
type ClientDirectory interface {
	GetApplication(ctx context.Context, consumerKey string) (*ClientApplication, error)
}
