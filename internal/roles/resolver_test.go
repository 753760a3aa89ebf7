package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wikichapters.org/internal/audit"
)

// fakeStore keeps assignments in memory and counts session invalidations,
// mirroring the transactional store contract.
type fakeStore struct {
	assignments  map[string][]Assignment
	invalidated  map[string]int
	removeReturn error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assignments: make(map[string][]Assignment),
		invalidated: make(map[string]int),
	}
}

func (f *fakeStore) Assignments(_ context.Context, userID string) ([]Assignment, error) {
	return f.assignments[userID], nil
}

func (f *fakeStore) Assign(_ context.Context, a Assignment) error {
	for _, held := range f.assignments[a.UserID] {
		if held.Role == a.Role && held.Chapter == a.Chapter {
			f.invalidated[a.UserID]++
			return nil
		}
	}
	f.assignments[a.UserID] = append(f.assignments[a.UserID], a)
	f.invalidated[a.UserID]++
	return nil
}

func (f *fakeStore) Remove(_ context.Context, a Assignment) error {
	if f.removeReturn != nil {
		return f.removeReturn
	}
	held := f.assignments[a.UserID]
	for i, cur := range held {
		if cur.Role == a.Role && cur.Chapter == a.Chapter {
			f.assignments[a.UserID] = append(held[:i], held[i+1:]...)
			f.invalidated[a.UserID]++
			return nil
		}
	}
	return ErrNotAssigned
}

type fakeAudit struct {
	entries []*audit.Entry
}

func (f *fakeAudit) Append(_ context.Context, e *audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func newTestResolver() (*Resolver, *fakeStore, *fakeAudit) {
	store := newFakeStore()
	log := &fakeAudit{}
	return NewResolver(store, log, nil), store, log
}

func TestAssignBySuper(t *testing.T) {
	r, store, log := newTestResolver()
	store.assignments["admin-1"] = []Assignment{{UserID: "admin-1", Role: RoleSuper}}

	err := r.Assign(context.Background(), "admin-1", Assignment{UserID: "user-2", Role: RoleChapterAdmin, Chapter: "wmde"})
	require.NoError(t, err)
	require.Len(t, store.assignments["user-2"], 1)
	require.Equal(t, 1, store.invalidated["user-2"], "target sessions must be invalidated")
	require.Len(t, log.entries, 1)
	require.Equal(t, "role.assign", log.entries[0].Action)
	require.Equal(t, "user-2", log.entries[0].TargetID)
}

func TestAssignByChapterAdminSameScope(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["admin-1"] = []Assignment{{UserID: "admin-1", Role: RoleChapterAdmin, Chapter: "wmde"}}

	err := r.Assign(context.Background(), "admin-1", Assignment{UserID: "user-2", Role: RoleMember, Chapter: "wmde"})
	require.NoError(t, err)
}

func TestAssignByChapterAdminWrongScope(t *testing.T) {
	r, store, log := newTestResolver()
	store.assignments["admin-1"] = []Assignment{{UserID: "admin-1", Role: RoleChapterAdmin, Chapter: "wmde"}}

	err := r.Assign(context.Background(), "admin-1", Assignment{UserID: "user-2", Role: RoleMember, Chapter: "wmfr"})
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Empty(t, store.assignments["user-2"])
	require.Zero(t, store.invalidated["user-2"])
	require.Empty(t, log.entries)
}

func TestAssignByMemberDenied(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["user-1"] = []Assignment{{UserID: "user-1", Role: RoleMember}}

	err := r.Assign(context.Background(), "user-1", Assignment{UserID: "user-2", Role: RoleMember})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestOnlySuperGrantsSuper(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["admin-1"] = []Assignment{{UserID: "admin-1", Role: RoleChapterAdmin}}

	err := r.Assign(context.Background(), "admin-1", Assignment{UserID: "user-2", Role: RoleSuper})
	require.ErrorIs(t, err, ErrPermissionDenied)

	store.assignments["root-1"] = []Assignment{{UserID: "root-1", Role: RoleSuper}}
	err = r.Assign(context.Background(), "root-1", Assignment{UserID: "user-2", Role: RoleSuper})
	require.NoError(t, err)
}

func TestAssignUnknownRole(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["root-1"] = []Assignment{{UserID: "root-1", Role: RoleSuper}}

	err := r.Assign(context.Background(), "root-1", Assignment{UserID: "user-2", Role: "warlord"})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestRemoveMissingAssignment(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["root-1"] = []Assignment{{UserID: "root-1", Role: RoleSuper}}

	err := r.Remove(context.Background(), "root-1", Assignment{UserID: "user-2", Role: RoleMember})
	require.ErrorIs(t, err, ErrNotAssigned)
}

func TestRemoveInvalidatesSessions(t *testing.T) {
	r, store, log := newTestResolver()
	store.assignments["root-1"] = []Assignment{{UserID: "root-1", Role: RoleSuper}}
	store.assignments["user-2"] = []Assignment{{UserID: "user-2", Role: RoleMember}}

	err := r.Remove(context.Background(), "root-1", Assignment{UserID: "user-2", Role: RoleMember})
	require.NoError(t, err)
	require.Empty(t, store.assignments["user-2"])
	require.Equal(t, 1, store.invalidated["user-2"])
	require.Len(t, log.entries, 1)
	require.Equal(t, "role.remove", log.entries[0].Action)
}

func TestRoleClaims(t *testing.T) {
	r, store, _ := newTestResolver()
	store.assignments["user-1"] = []Assignment{
		{UserID: "user-1", Role: RoleMember},
		{UserID: "user-1", Role: RoleChapterAdmin, Chapter: "wmde"},
	}

	claims, err := r.RoleClaims(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"member", "chapter_admin:wmde"}, claims)
}
