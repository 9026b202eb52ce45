// Package memory implementa repository.TokenStore en memoria.
//
// Es el store por defecto (storage.driver=memory) y el que usan los tests.
// Todas las mutaciones toman un único lock, así que cada operación es atómica
// respecto de las demás.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// Store es un TokenStore in-process.
type Store struct {
	mu sync.RWMutex

	// pares por hash del access token
	tokens map[string]*repository.AccessTokenRecord
	// hash del refresh token → hash del access token
	byRefresh map[string]string
	// (client|user|scope) → hash del access token más reciente
	latest map[string]string

	codes map[string]*repository.AuthzCodeRecord
}

var _ repository.TokenStore = (*Store)(nil)

// New crea un store vacío.
func New() *Store {
	return &Store{
		tokens:    make(map[string]*repository.AccessTokenRecord),
		byRefresh: make(map[string]string),
		latest:    make(map[string]string),
		codes:     make(map[string]*repository.AuthzCodeRecord),
	}
}

func latestKey(consumerKey, userKey, scope string) string {
	return consumerKey + "|" + userKey + "|" + scope
}

func cloneToken(r *repository.AccessTokenRecord) *repository.AccessTokenRecord {
	cp := *r
	cp.Scopes = append([]string(nil), r.Scopes...)
	cp.AuthzUser.AMR = append([]string(nil), r.AuthzUser.AMR...)
	return &cp
}

func cloneCode(r *repository.AuthzCodeRecord) *repository.AuthzCodeRecord {
	cp := *r
	cp.Scopes = append([]string(nil), r.Scopes...)
	cp.AuthzUser.AMR = append([]string(nil), r.AuthzUser.AMR...)
	return &cp
}

func (s *Store) StoreAccessToken(ctx context.Context, rec *repository.AccessTokenRecord, retireAccessTokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.AccessTokenHash == "" || rec.ConsumerKey == "" {
		return repository.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// el par a retirar se valida primero, igual que el UPDATE del store pg:
	// un perdedor de la carrera ve ErrTokenInactive, no un conflicto
	var old *repository.AccessTokenRecord
	if retireAccessTokenHash != "" {
		old = s.tokens[retireAccessTokenHash]
		if old == nil {
			return repository.ErrNotFound
		}
		if old.State != repository.TokenStateActive {
			return repository.ErrTokenInactive
		}
	}
	if _, dup := s.tokens[rec.AccessTokenHash]; dup {
		return repository.ErrConflict
	}
	if rec.RefreshTokenHash != "" {
		// el refresh token puede pasar del par retirado al nuevo (sin renovación)
		if owner, dup := s.byRefresh[rec.RefreshTokenHash]; dup && (retireAccessTokenHash == "" || owner != retireAccessTokenHash) {
			return repository.ErrConflict
		}
	}

	// de acá en adelante no hay fallas: ambas mutaciones o ninguna
	if old != nil {
		old.State = repository.TokenStateRevoked
		if old.RefreshTokenHash != "" && old.RefreshTokenHash == rec.RefreshTokenHash {
			old.RefreshTokenHash, old.RefreshToken = "", ""
		}
	}
	cp := cloneToken(rec)
	if cp.State == "" {
		cp.State = repository.TokenStateActive
	}
	s.tokens[cp.AccessTokenHash] = cp
	if cp.RefreshTokenHash != "" {
		s.byRefresh[cp.RefreshTokenHash] = cp.AccessTokenHash
	}
	s.latest[latestKey(cp.ConsumerKey, cp.AuthzUser.Key(), cp.ScopeString())] = cp.AccessTokenHash
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context, accessTokenHash string) (*repository.AccessTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tokens[accessTokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneToken(r), nil
}

func (s *Store) GetLatestAccessToken(ctx context.Context, consumerKey, userKey, scope string) (*repository.AccessTokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.latest[latestKey(consumerKey, userKey, scope)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r, ok := s.tokens[h]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneToken(r), nil
}

func (s *Store) ValidateRefreshToken(ctx context.Context, consumerKey, refreshTokenHash string) (*repository.RefreshTokenValidationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byRefresh[refreshTokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r := s.tokens[h]
	if r == nil || r.ConsumerKey != consumerKey {
		return nil, repository.ErrNotFound
	}
	return &repository.RefreshTokenValidationRecord{
		TokenID:          r.TokenID,
		ConsumerKey:      r.ConsumerKey,
		AccessTokenHash:  r.AccessTokenHash,
		AccessToken:      r.AccessToken,
		RefreshToken:     r.RefreshToken,
		RefreshTokenHash: r.RefreshTokenHash,
		GrantType:        r.GrantType,
		AuthzUser:        r.AuthzUser,
		Scopes:           append([]string(nil), r.Scopes...),
		IssuedAt:         r.RefreshIssuedAt,
		ValidityPeriod:   r.RefreshValidityPeriod,
		State:            r.State,
		TenantDomain:     r.TenantDomain,
	}, nil
}

func (s *Store) ExpireAccessToken(ctx context.Context, accessTokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tokens[accessTokenHash]
	if !ok {
		return repository.ErrNotFound
	}
	if !r.State.CanTransition(repository.TokenStateExpired) {
		return repository.ErrTokenInactive
	}
	r.State = repository.TokenStateExpired
	return nil
}

func (s *Store) RevokeTokens(ctx context.Context, accessTokenHashes ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range accessTokenHashes {
		r, ok := s.tokens[h]
		if !ok || !r.State.CanTransition(repository.TokenStateRevoked) {
			continue
		}
		r.State = repository.TokenStateRevoked
		n++
	}
	return n, nil
}

func (s *Store) StoreAuthzCode(ctx context.Context, rec *repository.AuthzCodeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.CodeHash == "" {
		return repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.codes[rec.CodeHash]; dup {
		return repository.ErrConflict
	}
	cp := cloneCode(rec)
	if cp.State == "" {
		cp.State = repository.CodeStateActive
	}
	s.codes[cp.CodeHash] = cp
	return nil
}

func (s *Store) GetAuthzCode(ctx context.Context, codeHash string) (*repository.AuthzCodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.codes[codeHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCode(r), nil
}

func (s *Store) ConsumeAuthzCode(ctx context.Context, codeHash string) (*repository.AuthzCodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.codes[codeHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if r.State != repository.CodeStateActive {
		return nil, repository.ErrTokenInactive
	}
	r.State = repository.CodeStateInactive
	return cloneCode(r), nil
}

// Len devuelve la cantidad de pares almacenados.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
