package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T, opts ...PGOption) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db, opts...), mock
}

func sessionColumns() []string {
	return []string{
		"id", "user_id", "origin", "user_agent", "ip_address",
		"device_class", "device_browser", "device_os",
		"created_at", "last_seen_at", "expires_at",
	}
}

func TestCreatePersistsDerivedDevice(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t, WithClock(func() time.Time { return fixed }))

	mock.ExpectExec("insert into sessions").
		WithArgs(sqlmock.AnyArg(), "user-1", "https://stats.wikichapters.org",
			"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0", "198.51.100.7",
			"desktop", "firefox", "linux",
			fixed, fixed, fixed.Add(DefaultTTL)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := store.Create(context.Background(), "user-1", Metadata{
		Origin:    "https://stats.wikichapters.org",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
		IPAddress: "198.51.100.7",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ValidID(sess.ID) {
		t.Fatalf("created session has malformed id: %q", sess.ID)
	}
	if sess.ExpiresAt != fixed.Add(DefaultTTL) {
		t.Fatalf("unexpected expiry: %v", sess.ExpiresAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetMalformedIDSkipsStore(t *testing.T) {
	store, mock := newMockStore(t)

	// No expectations registered: any query would fail the test.
	for _, id := range []string{"", "not-the-right-length", "has spaces or $ymbols!", "aaaaaaaaaaaaaaaaaaaaa="} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(%q) = %v, want ErrNotFound", id, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("store was touched for malformed id: %v", err)
	}
}

func TestGetTouchesLastSeen(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t, WithClock(func() time.Time { return fixed }))

	id, _ := NewID()
	mock.ExpectQuery("update sessions set last_seen_at").
		WithArgs(id, fixed).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			id, "user-1", "https://stats.wikichapters.org", "ua", "198.51.100.7",
			"desktop", "firefox", "linux",
			fixed.Add(-time.Hour), fixed, fixed.Add(DefaultTTL),
		))

	sess, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.UserID != "user-1" || sess.LastSeenAt != fixed {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetExpiredReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	id, _ := NewID()
	mock.ExpectQuery("update sessions set last_seen_at").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(sessionColumns()))

	if _, err := store.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	id, _ := NewID()
	mock.ExpectExec("delete from sessions where id").
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from sessions where id").
		WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Revoke(context.Background(), id); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := store.Revoke(context.Background(), id); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	// Malformed id is a no-op, not an error, and must not reach the store.
	if err := store.Revoke(context.Background(), "$bogus$"); err != nil {
		t.Fatalf("Revoke malformed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeAllExceptCurrent(t *testing.T) {
	store, mock := newMockStore(t)

	current, _ := NewID()
	mock.ExpectExec("delete from sessions where user_id").
		WithArgs("user-1", current).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.RevokeAll(context.Background(), "user-1", current)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
}

func TestRevokeAllWithoutException(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from sessions where user_id").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.RevokeAll(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
}

func TestListOrdersByActivity(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newMockStore(t, WithClock(func() time.Time { return fixed }))

	a, _ := NewID()
	b, _ := NewID()
	mock.ExpectQuery("select (.+) from sessions where user_id").
		WithArgs("user-1", fixed).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow(a, "user-1", "o", "ua", "ip", "desktop", "chrome", "linux",
				fixed.Add(-2*time.Hour), fixed.Add(-time.Minute), fixed.Add(DefaultTTL)).
			AddRow(b, "user-1", "o", "ua", "ip", "mobile", "safari", "ios",
				fixed.Add(-time.Hour), fixed.Add(-time.Hour), fixed.Add(DefaultTTL)))

	list, err := store.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != a || list[1].ID != b {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestDeleteExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from sessions where expires_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := store.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
}
