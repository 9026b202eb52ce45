// Package fs implementa los directorios (clientes, usuarios, identity
// provider residente y service providers) sobre archivos YAML.
//
// Layout:
//
//	<root>/tenants/<tenant>/clients.yaml
//	<root>/tenants/<tenant>/users.yaml
//	<root>/tenants/<tenant>/idp.yaml
//	<root>/tenants/<tenant>/service_providers.yaml
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	pwd "github.com/dropDatabas3/tokencore/internal/security/password"
	"github.com/dropDatabas3/tokencore/internal/util/atomicwrite"
)

// DefaultTenant es el tenant super.
const DefaultTenant = "carbon.super"

// User es un usuario de users.yaml.
type User struct {
	Username        string         `yaml:"username"`
	PasswordHash    string         `yaml:"password_hash"` // bcrypt | argon2id
	UserStoreDomain string         `yaml:"user_store_domain,omitempty"`
	Disabled        bool           `yaml:"disabled,omitempty"`
	Claims          map[string]any `yaml:"claims,omitempty"`
}

// Directory es el proveedor FS. Lee los archivos en cada lookup; usar
// directory.CachedClients para el hot path.
type Directory struct {
	root string
	mu   sync.Mutex // serializa escrituras
	now  func() time.Time
}

var (
	_ repository.ClientDirectory      = (*Directory)(nil)
	_ repository.IdentityDirectory    = (*Directory)(nil)
	_ repository.ApplicationDirectory = (*Directory)(nil)
	_ repository.UserAuthenticator    = (*Directory)(nil)
	_ repository.UserClaimsSource     = (*Directory)(nil)
)

// New crea un Directory sobre root.
func New(root string) *Directory {
	return &Directory{root: filepath.Clean(root), now: time.Now}
}

// Root devuelve el directorio raíz.
func (d *Directory) Root() string { return d.root }

func (d *Directory) tenantsDir() string             { return filepath.Join(d.root, "tenants") }
func (d *Directory) tenantDir(tenant string) string { return filepath.Join(d.tenantsDir(), tenant) }
func (d *Directory) file(tenant, name string) string {
	return filepath.Join(d.tenantDir(tenant), name)
}

func normTenant(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return DefaultTenant
	}
	return t
}

func readYAML[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

func writeYAMLAtomic(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return atomicwrite.WriteFile(path, data, 0o600)
}

// Tenants lista los tenants presentes.
func (d *Directory) Tenants() ([]string, error) {
	entries, err := os.ReadDir(d.tenantsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ─── clients ───

func (d *Directory) listClients(tenant string) ([]repository.ClientApplication, error) {
	var apps []repository.ClientApplication
	if err := readYAML(d.file(tenant, "clients.yaml"), &apps); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: read clients of %s: %w", tenant, err)
	}
	for i := range apps {
		if apps[i].TenantDomain == "" {
			apps[i].TenantDomain = tenant
		}
	}
	return apps, nil
}

// GetApplication busca el consumer key en todos los tenants.
func (d *Directory) GetApplication(ctx context.Context, consumerKey string) (*repository.ClientApplication, error) {
	tenants, err := d.Tenants()
	if err != nil {
		return nil, err
	}
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		apps, err := d.listClients(t)
		if err != nil {
			return nil, err
		}
		for i := range apps {
			if apps[i].ConsumerKey != consumerKey {
				continue
			}
			if apps[i].Disabled {
				return nil, repository.ErrInvalidClient
			}
			app := apps[i]
			return &app, nil
		}
	}
	return nil, repository.ErrNotFound
}

// UpsertClient crea o reemplaza un cliente en su tenant.
func (d *Directory) UpsertClient(_ context.Context, app repository.ClientApplication) error {
	if strings.TrimSpace(app.ConsumerKey) == "" {
		return repository.ErrInvalidInput
	}
	app.TenantDomain = normTenant(app.TenantDomain)

	d.mu.Lock()
	defer d.mu.Unlock()
	apps, err := d.listClients(app.TenantDomain)
	if err != nil {
		return err
	}
	replaced := false
	for i := range apps {
		if apps[i].ConsumerKey == app.ConsumerKey {
			apps[i] = app
			replaced = true
		}
	}
	if !replaced {
		apps = append(apps, app)
	}
	return writeYAMLAtomic(d.file(app.TenantDomain, "clients.yaml"), apps)
}

// ─── users ───

func (d *Directory) listUsers(tenant string) ([]User, error) {
	var users []User
	if err := readYAML(d.file(tenant, "users.yaml"), &users); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: read users of %s: %w", tenant, err)
	}
	return users, nil
}

// splitUsername separa "DOMAIN/user" en (DOMAIN, user).
func splitUsername(username string) (string, string) {
	if i := strings.Index(username, "/"); i > 0 {
		return strings.ToUpper(username[:i]), username[i+1:]
	}
	return "", username
}

func (d *Directory) findUser(tenant, username string) (*User, error) {
	domain, name := splitUsername(username)
	users, err := d.listUsers(tenant)
	if err != nil {
		return nil, err
	}
	for i := range users {
		u := &users[i]
		if u.Username != name {
			continue
		}
		if domain != "" && !strings.EqualFold(u.UserStoreDomain, domain) {
			continue
		}
		return u, nil
	}
	return nil, repository.ErrNotFound
}

// Authenticate valida usuario/password (bcrypt o argon2id).
func (d *Directory) Authenticate(_ context.Context, tenantDomain, username, password string) (*repository.AuthenticatedUser, error) {
	tenant := normTenant(tenantDomain)
	u, err := d.findUser(tenant, username)
	if errors.Is(err, repository.ErrNotFound) {
		// mismo error que password inválida
		return nil, repository.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Disabled || !pwd.Verify(password, u.PasswordHash) {
		return nil, repository.ErrInvalidCredentials
	}
	return &repository.AuthenticatedUser{
		Subject:         u.Username,
		UserStoreDomain: u.UserStoreDomain,
		TenantDomain:    tenant,
		AuthTime:        d.now(),
		AMR:             []string{"pwd"},
	}, nil
}

// GetUserClaims devuelve los claims declarados del usuario.
func (d *Directory) GetUserClaims(_ context.Context, user repository.AuthenticatedUser) (map[string]any, error) {
	name := user.Subject
	if user.UserStoreDomain != "" {
		name = user.UserStoreDomain + "/" + user.Subject
	}
	u, err := d.findUser(normTenant(user.TenantDomain), name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(u.Claims))
	for k, v := range u.Claims {
		out[k] = v
	}
	return out, nil
}

// UpsertUser crea o reemplaza un usuario, hasheando password con bcrypt.
func (d *Directory) UpsertUser(_ context.Context, tenantDomain string, u User, password string) error {
	if strings.TrimSpace(u.Username) == "" {
		return repository.ErrInvalidInput
	}
	tenant := normTenant(tenantDomain)
	if password != "" {
		h, err := pwd.HashBcrypt(password)
		if err != nil {
			return err
		}
		u.PasswordHash = h
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := d.listUsers(tenant)
	if err != nil {
		return err
	}
	replaced := false
	for i := range users {
		if users[i].Username == u.Username && strings.EqualFold(users[i].UserStoreDomain, u.UserStoreDomain) {
			users[i] = u
			replaced = true
		}
	}
	if !replaced {
		users = append(users, u)
	}
	return writeYAMLAtomic(d.file(tenant, "users.yaml"), users)
}

// ─── identity provider / service providers ───

// GetResidentIdentityProvider lee idp.yaml del tenant.
func (d *Directory) GetResidentIdentityProvider(_ context.Context, tenantDomain string) (*repository.IdentityProviderConfig, error) {
	var idp repository.IdentityProviderConfig
	if err := readYAML(d.file(normTenant(tenantDomain), "idp.yaml"), &idp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("directory: read idp: %w", err)
	}
	return &idp, nil
}

// GetServiceProviderByClientID busca la configuración SP de un cliente.
func (d *Directory) GetServiceProviderByClientID(_ context.Context, clientID, tenantDomain string) (*repository.ServiceProviderConfig, error) {
	var sps []repository.ServiceProviderConfig
	if err := readYAML(d.file(normTenant(tenantDomain), "service_providers.yaml"), &sps); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("directory: read service providers: %w", err)
	}
	for i := range sps {
		if sps[i].ClientID == clientID {
			sp := sps[i]
			return &sp, nil
		}
	}
	return nil, repository.ErrNotFound
}
