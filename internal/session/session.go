// Package session persists one record per logged-in device, independent of
// token validity. Sessions drive the device-listing and remote-logout UX.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// IDLength is the fixed length of a session identifier: 16 random bytes in
// unpadded URL-safe base64.
const IDLength = 22

// DefaultTTL is how long a session lives without explicit revocation.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNotFound is returned for absent sessions and for identifiers that fail
// the format gate.
var ErrNotFound = errors.New("session: not found")

// Session is a persisted per-device record.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Origin     string    `json:"origin"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	Device     Device    `json:"device"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Metadata captures the request context a session was created from.
type Metadata struct {
	Origin    string
	UserAgent string
	IPAddress string
}

// Store is the persistence contract for sessions.
type Store interface {
	// Create persists a new session for the user and returns it with a
	// freshly generated id.
	Create(ctx context.Context, userID string, meta Metadata) (*Session, error)
	// Get returns the session and bumps its last-seen timestamp. Malformed
	// ids short-circuit to ErrNotFound without touching the store.
	Get(ctx context.Context, id string) (*Session, error)
	// Revoke deletes a session. Revoking twice, or a nonexistent or
	// malformed id, is not an error.
	Revoke(ctx context.Context, id string) error
	// RevokeAll deletes every session owned by the user except optionally
	// one, returning the number removed.
	RevokeAll(ctx context.Context, userID, exceptID string) (int64, error)
	// List returns the user's non-expired sessions, most recent activity
	// first.
	List(ctx context.Context, userID string) ([]*Session, error)
	// DeleteExpired removes every session past expiry. Invoked by an
	// external scheduler, not by request traffic.
	DeleteExpired(ctx context.Context) (int64, error)
}

// NewID generates a session identifier from a crypto-strength random source.
func NewID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ValidID is the strict format gate: exactly IDLength characters from the
// URL-safe base64 alphabet. It runs before every store lookup that takes an
// id from the outside.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// Device is a coarse descriptor derived from the User-Agent string. It is
// display-only and has no security role.
type Device struct {
	Class   string `json:"class"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// ParseDevice derives a device descriptor deterministically from a
// User-Agent string.
func ParseDevice(userAgent string) Device {
	ua := strings.ToLower(userAgent)
	d := Device{Class: "desktop", Browser: "other", OS: "other"}
	if ua == "" {
		d.Class = "unknown"
		return d
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		d.Class = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		d.Class = "mobile"
	case strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") || strings.Contains(ua, "spider"):
		d.Class = "bot"
	}

	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		d.Browser = "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		d.Browser = "opera"
	case strings.Contains(ua, "firefox"):
		d.Browser = "firefox"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "chromium"):
		d.Browser = "chrome"
	case strings.Contains(ua, "safari"):
		d.Browser = "safari"
	}

	switch {
	case strings.Contains(ua, "android"):
		d.OS = "android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		d.OS = "ios"
	case strings.Contains(ua, "windows"):
		d.OS = "windows"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		d.OS = "macos"
	case strings.Contains(ua, "linux"):
		d.OS = "linux"
	}
	return d
}
