package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wikichapters.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore builds a user store over an existing pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, provider_id, username, email, active, claimed, created_at, updated_at, last_login_at`

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByProviderID(ctx context.Context, providerID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where provider_id=$1`, providerID)
	return scanUser(row)
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, provider_id, username, email, active, claimed)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.ProviderID, u.Username, u.Email, u.Active, u.Claimed,
	)
	return err
}

func (s *PGStore) TouchLogin(ctx context.Context, u *User, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users
		 set username=$2, email=$3, claimed=true, last_login_at=$4, updated_at=$4
		 where id=$1`,
		u.ID, u.Username, u.Email, at.UTC(),
	)
	return err
}

func (s *PGStore) Deactivate(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update users set active=false, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`delete from sessions where user_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		email     sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.ProviderID, &u.Username, &email, &u.Active, &u.Claimed,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	return &u, nil
}
