package revocation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var _ Registry = (*PGRegistry)(nil)

// PGRegistry implements Registry over a revoked_tokens table keyed by jti.
// The primary-key conflict on insert is what serializes concurrent
// revocations of the same jti; no application-level locking is involved.
type PGRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// PGOption configures a PGRegistry.
type PGOption func(*PGRegistry)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) PGOption {
	return func(r *PGRegistry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewPGRegistry builds a registry over an existing pool.
func NewPGRegistry(db *sql.DB, opts ...PGOption) *PGRegistry {
	r := &PGRegistry{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PGRegistry) Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, errors.New("revocation: jti is required")
	}
	res, err := r.db.ExecContext(ctx,
		`insert into revoked_tokens(jti, expires_at, revoked_at)
		 values($1,$2,$3)
		 on conflict (jti) do nothing`,
		jti, expiresAt.UTC(), r.now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PGRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}
	var one int
	err := r.db.QueryRowContext(ctx,
		`select 1 from revoked_tokens where jti=$1`, jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PGRegistry) Purge(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`delete from revoked_tokens where expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
