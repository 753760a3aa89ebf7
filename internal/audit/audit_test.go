package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAppendFillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	log := NewPGLog(db)

	mock.ExpectExec("insert into audit_log").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "admin-1", "role.assign", "user", "user-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &Entry{
		ActorID:    "admin-1",
		Action:     "role.assign",
		TargetType: "user",
		TargetID:   "user-2",
		Fields:     map[string]any{"role": "chapter_admin", "chapter": "wmde"},
	}
	if err := log.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.ID == "" || entry.OccurredAt.IsZero() {
		t.Fatalf("defaults not filled: %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendRequiresAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	log := NewPGLog(db)

	if err := log.Append(context.Background(), &Entry{ActorID: "a"}); err == nil {
		t.Fatalf("expected error for missing action")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("store was touched: %v", err)
	}
}
