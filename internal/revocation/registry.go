// Package revocation tracks token identifiers (jti) invalidated before their
// natural expiry.
//
// Each entry carries the original token's expiry, so the registry stays
// bounded: once an entry's deadline passes the underlying token is dead
// anyway and the row can be purged. jtis are unique per mint, so a stale
// entry can never shadow a newer token.
package revocation

import (
	"context"
	"time"
)

// Registry is consulted on every authenticated request after signature and
// expiry checks pass.
type Registry interface {
	// Revoke records the jti as invalid until expiresAt. The returned bool
	// is false when the jti was already present; during refresh rotation
	// this is the serialization point that makes a concurrent reuse of the
	// same refresh token a hard reject.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	// IsRevoked reports whether the jti has an active revocation entry.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Purge removes entries whose own deadline has passed, returning the
	// number removed.
	Purge(ctx context.Context) (int64, error)
}
