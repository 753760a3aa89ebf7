// Package identity manages local user records and the exchange of external
// Wikimedia identity assertions for them.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("identity: not found")
	ErrInactive = errors.New("identity: user is deactivated")
)

// DefaultRole is assigned to a user created on first login.
const DefaultRole = "member"

// User is the local identity record keyed by the provider's subject id.
// Users are never hard-deleted while sessions may reference them; Deactivate
// flips Active and cascades session removal instead.
type User struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Active      bool      `json:"active"`
	Claimed     bool      `json:"claimed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastLoginAt time.Time `json:"last_login_at,omitzero"`
}

// Store is the persistence contract for users.
type Store interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByProviderID(ctx context.Context, providerID string) (*User, error)
	// Create persists a new user, assigning an id when empty.
	Create(ctx context.Context, u *User) error
	// TouchLogin marks a successful login: updates username/email from the
	// provider assertion, sets claimed, and stamps last_login_at.
	TouchLogin(ctx context.Context, u *User, at time.Time) error
	// Deactivate soft-deletes the user and removes their sessions in the
	// same transaction.
	Deactivate(ctx context.Context, id string) error
}
