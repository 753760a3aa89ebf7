package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestAssignmentsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select user_id, role, chapter, created_at from user_roles").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role", "chapter", "created_at"}).
			AddRow("user-1", RoleMember, "", time.Now()).
			AddRow("user-1", RoleChapterAdmin, "wmde", time.Now()))

	list, err := store.Assignments(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	if len(list) != 2 || list[1].Chapter != "wmde" {
		t.Fatalf("unexpected assignments: %+v", list)
	}
}

func TestAssignCommitsWithSessionSweep(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into user_roles").
		WithArgs("user-2", RoleChapterAdmin, "wmde").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from sessions where user_id").
		WithArgs("user-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.Assign(context.Background(), Assignment{UserID: "user-2", Role: RoleChapterAdmin, Chapter: "wmde"})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignRollsBackWhenSweepFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into user_roles").
		WithArgs("user-2", RoleMember, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from sessions where user_id").
		WithArgs("user-2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Assign(context.Background(), Assignment{UserID: "user-2", Role: RoleMember})
	if err == nil {
		t.Fatalf("expected error when session sweep fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRemoveUnknownAssignment(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from user_roles").
		WithArgs("user-2", RoleMember, "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Remove(context.Background(), Assignment{UserID: "user-2", Role: RoleMember})
	if !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}
