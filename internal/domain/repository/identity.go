package repository

import (
	"context"
	"strings"
)

// Nombres bien conocidos de authenticators/properties del identity provider residente.
const (
	OIDCAuthenticatorName = "OpenIDConnect"
	IdPEntityIDProperty   = "IdPEntityId"
)

// Property es un par nombre/valor de configuración de un authenticator.
type Property struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// FederatedAuthenticatorConfig describe un authenticator del identity provider.
type FederatedAuthenticatorConfig struct {
	Name       string     `yaml:"name" json:"name"`
	Enabled    bool       `yaml:"enabled" json:"enabled"`
	Properties []Property `yaml:"properties" json:"properties"`
}

// Property busca una propiedad por nombre.
func (f *FederatedAuthenticatorConfig) Property(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, p := range f.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// IdentityProviderConfig es la configuración del identity provider residente de un tenant.
type IdentityProviderConfig struct {
	Name                    string                         `yaml:"name" json:"name"`
	FederatedAuthenticators []FederatedAuthenticatorConfig `yaml:"federated_authenticators" json:"federated_authenticators"`
}

// FederatedAuthenticator busca un authenticator por nombre.
func (p *IdentityProviderConfig) FederatedAuthenticator(name string) *FederatedAuthenticatorConfig {
	if p == nil {
		return nil
	}
	for i := range p.FederatedAuthenticators {
		if strings.EqualFold(p.FederatedAuthenticators[i].Name, name) {
			return &p.FederatedAuthenticators[i]
		}
	}
	return nil
}

// IdentityDirectory resuelve el identity provider residente.
type IdentityDirectory interface {
	GetResidentIdentityProvider(ctx context.Context, tenantDomain string) (*IdentityProviderConfig, error)
}

// ServiceProviderConfig es la configuración de la aplicación que afecta al ID token.
type ServiceProviderConfig struct {
	ApplicationName             string   `yaml:"name" json:"name"`
	ClientID                    string   `yaml:"client_id" json:"client_id"`
	UseTenantDomainInSubject    bool     `yaml:"use_tenant_domain_in_subject" json:"use_tenant_domain_in_subject"`
	UseUserStoreDomainInSubject bool     `yaml:"use_user_store_domain_in_subject" json:"use_user_store_domain_in_subject"`
	RequestedClaims             []string `yaml:"requested_claims" json:"requested_claims"`
}

// ApplicationDirectory resuelve service providers por client id.
// Retorna ErrNotFound si no hay configuración para ese cliente.
type ApplicationDirectory interface {
	GetServiceProviderByClientID(ctx context.Context, clientID, tenantDomain string) (*ServiceProviderConfig, error)
}

// UserAuthenticator valida credenciales de resource owner (grant password).
// Retorna ErrInvalidCredentials si no coinciden.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, tenantDomain, username, password string) (*AuthenticatedUser, error)
}

// UserClaimsSource devuelve los atributos de un usuario (claims OIDC estándar).
type UserClaimsSource interface {
	GetUserClaims(ctx context.Context, user AuthenticatedUser) (map[string]any, error)
}
