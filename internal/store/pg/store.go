// Package pg implementa repository.TokenStore sobre PostgreSQL (pgx).
//
// Un par access/refresh vive en una sola fila de oauth_access_token, así que
// revocar un par es un único UPDATE condicionado a state='ACTIVE'.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// Config ajustes del pool.
type Config struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Store es un TokenStore respaldado por pgxpool.
type Store struct{ pool *pgxpool.Pool }

var _ repository.TokenStore = (*Store)(nil)

// Connect crea el pool y verifica la conexión.
func Connect(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		pcfg.MaxConns = 10
	}
	// MaxIdleConns → MinConns (pgxpool)
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		pcfg.MinConns = 2
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool envuelve un pool existente.
func NewFromPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Pool expone el pool interno (migraciones).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close cierra el pool (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// ─── helpers ───

func ms(d time.Duration) int64      { return d.Milliseconds() }
func fromMS(v int64) time.Duration  { return time.Duration(v) * time.Millisecond }
func amrString(amr []string) string { return strings.Join(amr, " ") }
func amrSlice(s string) []string    { return strings.Fields(s) }
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func restoreUser(key, tenant string, authTime *time.Time, amr string) repository.AuthenticatedUser {
	u := repository.ParseUserKey(key)
	if u.TenantDomain == "" {
		u.TenantDomain = tenant
	}
	if authTime != nil {
		u.AuthTime = *authTime
	}
	u.AMR = amrSlice(amr)
	return u
}

// ─── access tokens ───

const tokenCols = `token_id, access_token_hash, access_token, refresh_token_hash, refresh_token,
	consumer_key, authz_user, tenant_domain, scope, issued_at, validity_ms,
	refresh_issued_at, refresh_validity_ms, state, grant_type, auth_time, amr`

func scanToken(row pgx.Row) (*repository.AccessTokenRecord, error) {
	var (
		r                     repository.AccessTokenRecord
		refreshHash, refresh  *string
		userKey, scope, amr   string
		validity, refreshVal  int64
		refreshIssued, authAt *time.Time
		state                 string
	)
	err := row.Scan(&r.TokenID, &r.AccessTokenHash, &r.AccessToken, &refreshHash, &refresh,
		&r.ConsumerKey, &userKey, &r.TenantDomain, &scope, &r.IssuedAt, &validity,
		&refreshIssued, &refreshVal, &state, &r.GrantType, &authAt, &amr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if refreshHash != nil {
		r.RefreshTokenHash = *refreshHash
	}
	if refresh != nil {
		r.RefreshToken = *refresh
	}
	if refreshIssued != nil {
		r.RefreshIssuedAt = *refreshIssued
	}
	r.AuthzUser = restoreUser(userKey, r.TenantDomain, authAt, amr)
	r.Scopes = repository.ParseScope(scope)
	r.ValidityPeriod = fromMS(validity)
	r.RefreshValidityPeriod = fromMS(refreshVal)
	r.State = repository.TokenState(state)
	return &r, nil
}

func (s *Store) StoreAccessToken(ctx context.Context, rec *repository.AccessTokenRecord, retireAccessTokenHash string) error {
	if rec == nil || rec.AccessTokenHash == "" || rec.ConsumerKey == "" {
		return repository.ErrInvalidInput
	}
	state := rec.State
	if state == "" {
		state = repository.TokenStateActive
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if retireAccessTokenHash != "" {
		// Si el refresh token pasa al par nuevo (sin renovación) se desengancha del viejo.
		ct, err := tx.Exec(ctx, `UPDATE oauth_access_token SET state='REVOKED',
			refresh_token_hash = CASE WHEN refresh_token_hash = $2 THEN NULL ELSE refresh_token_hash END,
			refresh_token = CASE WHEN refresh_token_hash = $2 THEN NULL ELSE refresh_token END
			WHERE access_token_hash=$1 AND state='ACTIVE'`,
			retireAccessTokenHash, nullString(rec.RefreshTokenHash))
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM oauth_access_token WHERE access_token_hash=$1`, retireAccessTokenHash).Scan(&one)
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			if err != nil {
				return err
			}
			return repository.ErrTokenInactive
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO oauth_access_token (`+tokenCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		rec.TokenID, rec.AccessTokenHash, rec.AccessToken,
		nullString(rec.RefreshTokenHash), nullString(rec.RefreshToken),
		rec.ConsumerKey, rec.AuthzUser.Key(), rec.TenantDomain, rec.ScopeString(),
		rec.IssuedAt, ms(rec.ValidityPeriod),
		nullTime(rec.RefreshIssuedAt), ms(rec.RefreshValidityPeriod),
		string(state), rec.GrantType, nullTime(rec.AuthzUser.AuthTime), amrString(rec.AuthzUser.AMR))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetAccessToken(ctx context.Context, accessTokenHash string) (*repository.AccessTokenRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM oauth_access_token WHERE access_token_hash=$1`, accessTokenHash)
	return scanToken(row)
}

func (s *Store) GetLatestAccessToken(ctx context.Context, consumerKey, userKey, scope string) (*repository.AccessTokenRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM oauth_access_token
		WHERE consumer_key=$1 AND authz_user=$2 AND scope=$3
		ORDER BY issued_at DESC LIMIT 1`, consumerKey, userKey, scope)
	return scanToken(row)
}

func (s *Store) ValidateRefreshToken(ctx context.Context, consumerKey, refreshTokenHash string) (*repository.RefreshTokenValidationRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenCols+` FROM oauth_access_token
		WHERE consumer_key=$1 AND refresh_token_hash=$2
		ORDER BY refresh_issued_at DESC LIMIT 1`, consumerKey, refreshTokenHash)
	r, err := scanToken(row)
	if err != nil {
		return nil, err
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
		Scopes:           r.Scopes,
		IssuedAt:         r.RefreshIssuedAt,
		ValidityPeriod:   r.RefreshValidityPeriod,
		State:            r.State,
		TenantDomain:     r.TenantDomain,
	}, nil
}

func (s *Store) ExpireAccessToken(ctx context.Context, accessTokenHash string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE oauth_access_token SET state='EXPIRED' WHERE access_token_hash=$1 AND state='ACTIVE'`,
		accessTokenHash)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM oauth_access_token WHERE access_token_hash=$1`, accessTokenHash).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return repository.ErrTokenInactive
}

func (s *Store) RevokeTokens(ctx context.Context, accessTokenHashes ...string) (int, error) {
	if len(accessTokenHashes) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE oauth_access_token SET state='REVOKED' WHERE access_token_hash = ANY($1) AND state='ACTIVE'`,
		accessTokenHashes)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// ─── authorization codes ───

const codeCols = `code_id, code_hash, code, consumer_key, callback_uri, authz_user, tenant_domain,
	scope, nonce, acr, issued_at, validity_ms, state, code_challenge, code_challenge_method, auth_time, amr`

func scanCode(row pgx.Row) (*repository.AuthzCodeRecord, error) {
	var (
		r                   repository.AuthzCodeRecord
		userKey, scope, amr string
		validity            int64
		authAt              *time.Time
		state               string
	)
	err := row.Scan(&r.CodeID, &r.CodeHash, &r.Code, &r.ConsumerKey, &r.CallbackURI, &userKey, &r.TenantDomain,
		&scope, &r.Nonce, &r.ACR, &r.IssuedAt, &validity, &state, &r.CodeChallenge, &r.CodeChallengeMethod, &authAt, &amr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	r.AuthzUser = restoreUser(userKey, r.TenantDomain, authAt, amr)
	r.Scopes = repository.ParseScope(scope)
	r.ValidityPeriod = fromMS(validity)
	r.State = repository.CodeState(state)
	return &r, nil
}

func (s *Store) StoreAuthzCode(ctx context.Context, rec *repository.AuthzCodeRecord) error {
	if rec == nil || rec.CodeHash == "" {
		return repository.ErrInvalidInput
	}
	state := rec.State
	if state == "" {
		state = repository.CodeStateActive
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO oauth_authz_code (`+codeCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		rec.CodeID, rec.CodeHash, rec.Code, rec.ConsumerKey, rec.CallbackURI,
		rec.AuthzUser.Key(), rec.TenantDomain, repository.ScopeString(rec.Scopes),
		rec.Nonce, rec.ACR, rec.IssuedAt, ms(rec.ValidityPeriod), string(state),
		rec.CodeChallenge, rec.CodeChallengeMethod, nullTime(rec.AuthzUser.AuthTime), amrString(rec.AuthzUser.AMR))
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

func (s *Store) GetAuthzCode(ctx context.Context, codeHash string) (*repository.AuthzCodeRecord, error) {
	return scanCode(s.pool.QueryRow(ctx, `SELECT `+codeCols+` FROM oauth_authz_code WHERE code_hash=$1`, codeHash))
}

func (s *Store) ConsumeAuthzCode(ctx context.Context, codeHash string) (*repository.AuthzCodeRecord, error) {
	row := s.pool.QueryRow(ctx, `UPDATE oauth_authz_code SET state='INACTIVE'
		WHERE code_hash=$1 AND state='ACTIVE' RETURNING `+codeCols, codeHash)
	rec, err := scanCode(row)
	if !errors.Is(err, repository.ErrNotFound) {
		return rec, err
	}
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM oauth_authz_code WHERE code_hash=$1`, codeHash).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, repository.ErrTokenInactive
}
