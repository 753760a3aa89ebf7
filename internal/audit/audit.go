// Package audit appends immutable records of privileged actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"wikichapters.org/internal/ids"
)

// Entry is one append-only audit record.
type Entry struct {
	ID         string
	OccurredAt time.Time
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Fields     map[string]any
}

// Log is the append-only contract.
type Log interface {
	Append(ctx context.Context, entry *Entry) error
}

var _ Log = (*PGLog)(nil)

// PGLog appends entries to the audit_log table.
type PGLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGLog builds an audit log over an existing pool.
func NewPGLog(db *sql.DB) *PGLog {
	return &PGLog{db: db, now: time.Now}
}

func (l *PGLog) Append(ctx context.Context, entry *Entry) error {
	if entry == nil || strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit: action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	fields, _ := json.Marshal(entry.Fields)
	_, err := l.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_id, action, target_type, target_id, fields)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.OccurredAt, entry.ActorID, entry.Action,
		entry.TargetType, entry.TargetID, fields,
	)
	return err
}
