package jwt

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// KeyResolver resuelve el Signer de un tenant para un algoritmo.
type KeyResolver interface {
	SignerFor(ctx context.Context, tenantDomain, alg string) (Signer, error)
}

// StaticResolver sirve claves fijas por tenant, con una clave por defecto.
type StaticResolver struct {
	mu       sync.RWMutex
	byTenant map[string]*KeySet
	def      *KeySet
}

// NewStaticResolver crea un resolver con una clave por defecto (puede ser nil).
func NewStaticResolver(def *KeySet) *StaticResolver {
	return &StaticResolver{byTenant: map[string]*KeySet{}, def: def}
}

// SetTenantKey registra la clave de un tenant.
func (r *StaticResolver) SetTenantKey(tenantDomain string, k *KeySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTenant[strings.ToLower(tenantDomain)] = k
}

// Keys devuelve todas las claves registradas (para JWKS).
func (r *StaticResolver) Keys() []*KeySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*KeySet, 0, len(r.byTenant)+1)
	if r.def != nil {
		out = append(out, r.def)
	}
	for _, k := range r.byTenant {
		out = append(out, k)
	}
	return out
}

func (r *StaticResolver) SignerFor(_ context.Context, tenantDomain, alg string) (Signer, error) {
	alg = NormalizeAlg(alg)
	if alg == AlgNone {
		return NoneSigner{}, nil
	}
	r.mu.RLock()
	k, ok := r.byTenant[strings.ToLower(tenantDomain)]
	if !ok {
		k = r.def
	}
	r.mu.RUnlock()
	if k == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoKey, tenantDomain)
	}
	// La clave define el algoritmo efectivo; alg solo se valida.
	if err := checkKeyType(alg, k.Priv); err != nil {
		return nil, err
	}
	return NewSigner(alg, k.Priv, k.KID)
}
