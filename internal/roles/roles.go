// Package roles resolves a user's role assignments and the capabilities
// they grant.
//
// Authorization is a policy table, not ad-hoc checks: each role name maps to
// a capability set, and the super role implies every capability in every
// chapter scope. Call sites ask for capabilities, never for role names.
package roles

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role names understood by the policy table.
const (
	RoleSuper        = "super"
	RoleChapterAdmin = "chapter_admin"
	RoleMember       = "member"
)

// Capability is a named privilege a role grants.
type Capability string

const (
	CapViewStats     Capability = "view_stats"
	CapManageMembers Capability = "manage_members"
	CapManageRoles   Capability = "manage_roles"
	CapManageChapter Capability = "manage_chapter"
)

var roleCapabilities = map[string][]Capability{
	RoleMember:       {CapViewStats},
	RoleChapterAdmin: {CapViewStats, CapManageMembers, CapManageRoles, CapManageChapter},
	// RoleSuper is not enumerated: it implies every capability by rule.
}

var (
	ErrUnknownRole      = errors.New("roles: unknown role")
	ErrPermissionDenied = errors.New("roles: permission denied")
	ErrNotAssigned      = errors.New("roles: assignment not found")
)

// KnownRole reports whether the policy table understands the role name.
func KnownRole(role string) bool {
	if role == RoleSuper {
		return true
	}
	_, ok := roleCapabilities[role]
	return ok
}

// Assignment is the (user, role, chapter scope) tuple. An empty Chapter
// means the assignment is global.
type Assignment struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Chapter   string    `json:"chapter,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Claim encodes the assignment for token claims: "role" for global scope,
// "role:chapter" otherwise.
func (a Assignment) Claim() string {
	if a.Chapter == "" {
		return a.Role
	}
	return a.Role + ":" + a.Chapter
}

// ParseClaim is the inverse of Claim.
func ParseClaim(claim string) (role, chapter string) {
	role, chapter, _ = strings.Cut(claim, ":")
	return role, chapter
}

// Grants reports whether the assignment grants the capability within the
// chapter scope. Super grants everything everywhere; other roles grant
// their capability set globally (empty assignment scope) or within their
// own chapter only.
func (a Assignment) Grants(cap Capability, chapter string) bool {
	if a.Role == RoleSuper {
		return true
	}
	if a.Chapter != "" && a.Chapter != chapter {
		return false
	}
	for _, c := range roleCapabilities[a.Role] {
		if c == cap {
			return true
		}
	}
	return false
}

// AnyGrants reports whether any assignment in the list grants the
// capability within the chapter scope.
func AnyGrants(assignments []Assignment, cap Capability, chapter string) bool {
	for _, a := range assignments {
		if a.Grants(cap, chapter) {
			return true
		}
	}
	return false
}

// ClaimsGrant evaluates the same policy over encoded token claims, for call
// sites that only have a verified token in hand.
func ClaimsGrant(claims []string, cap Capability, chapter string) bool {
	for _, claim := range claims {
		role, scope := ParseClaim(claim)
		if (Assignment{Role: role, Chapter: scope}).Grants(cap, chapter) {
			return true
		}
	}
	return false
}

// Store is the persistence contract for role assignments. Assign and Remove
// clear the affected user's sessions in the same transaction, so stale role
// claims cannot outlive the change.
type Store interface {
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	Assign(ctx context.Context, a Assignment) error
	Remove(ctx context.Context, a Assignment) error
}
