package roles

import (
	"context"
	"database/sql"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Role changes and session
// invalidation commit atomically: a role change whose session sweep fails is
// rolled back rather than left half-applied.
type PGStore struct {
	db *sql.DB
}

// NewPGStore builds a role store over an existing pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, role, chapter, created_at from user_roles where user_id=$1 order by created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.Role, &a.Chapter, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PGStore) Assign(ctx context.Context, a Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into user_roles(user_id, role, chapter)
		 values($1,$2,$3)
		 on conflict (user_id, role, chapter) do nothing`,
		a.UserID, a.Role, a.Chapter,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from sessions where user_id=$1`, a.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) Remove(ctx context.Context, a Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role=$2 and chapter=$3`,
		a.UserID, a.Role, a.Chapter,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAssigned
	}
	if _, err := tx.ExecContext(ctx,
		`delete from sessions where user_id=$1`, a.UserID); err != nil {
		return err
	}
	return tx.Commit()
}
