package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// PGOption configures a PGStore.
type PGOption func(*PGStore)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) PGOption {
	return func(s *PGStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) PGOption {
	return func(s *PGStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewPGStore builds a session store over an existing pool.
func NewPGStore(db *sql.DB, opts ...PGOption) *PGStore {
	s := &PGStore{db: db, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PGStore) Create(ctx context.Context, userID string, meta Metadata) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		ID:         id,
		UserID:     userID,
		Origin:     meta.Origin,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		Device:     ParseDevice(meta.UserAgent),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	_, err = s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, origin, user_agent, ip_address, device_class, device_browser, device_os, created_at, last_seen_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sess.ID, sess.UserID, sess.Origin, sess.UserAgent, sess.IPAddress,
		sess.Device.Class, sess.Device.Browser, sess.Device.OS,
		sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx,
		`update sessions set last_seen_at=$2
		 where id=$1 and expires_at > $2
		 returning id, user_id, origin, user_agent, ip_address, device_class, device_browser, device_os, created_at, last_seen_at, expires_at`,
		id, now,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *PGStore) Revoke(ctx context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	return err
}

func (s *PGStore) RevokeAll(ctx context.Context, userID, exceptID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if ValidID(exceptID) {
		res, err = s.db.ExecContext(ctx,
			`delete from sessions where user_id=$1 and id <> $2`, userID, exceptID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`delete from sessions where user_id=$1`, userID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) List(ctx context.Context, userID string) ([]*Session, error) {
	now := s.now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, origin, user_agent, ip_address, device_class, device_browser, device_os, created_at, last_seen_at, expires_at
		 from sessions where user_id=$1 and expires_at > $2
		 order by last_seen_at desc`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *PGStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Origin, &sess.UserAgent, &sess.IPAddress,
		&sess.Device.Class, &sess.Device.Browser, &sess.Device.OS,
		&sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt,
	); err != nil {
		return nil, err
	}
	return &sess, nil
}
