// Package token mints and verifies the signed access/refresh token pair.
//
// Tokens are ephemeral bearer values: nothing here touches storage. The
// revocation registry and session store decide whether a structurally valid
// token is still honoured.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type tags a token as access or refresh; a refresh token presented where an
// access token is expected must fail verification.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

const (
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultRefreshThreshold = 5 * time.Minute

	minSecretLength = 32
)

// ErrInvalidToken covers every verification failure: malformed input, bad
// signature, expiry, wrong issuer/audience, wrong token type. Callers map it
// to "not authenticated", never to a 5xx.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the signed payload carried by both token types.
type Claims struct {
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType Type     `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Minted is the result of signing a single token.
type Minted struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Pair bundles a freshly minted access and refresh token.
type Pair struct {
	Access  Minted
	Refresh Minted
}

// Codec signs and verifies tokens with a server-held HS256 secret.
type Codec struct {
	secret           []byte
	issuer           string
	audience         string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = strings.TrimSpace(issuer) }
}

func WithAudience(audience string) Option {
	return func(c *Codec) { c.audience = strings.TrimSpace(audience) }
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithRefreshThreshold sets the remaining-lifetime cutoff below which
// ShouldRefresh reports true.
func WithRefreshThreshold(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.refreshThreshold = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New builds a Codec. A secret shorter than 32 bytes is refused: that is a
// configuration error and must stop the process, not surface at request time.
func New(secret string, opts ...Option) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("token: signing secret must be at least %d bytes", minSecretLength)
	}
	c := &Codec{
		secret:           []byte(secret),
		accessTTL:        DefaultAccessTTL,
		refreshTTL:       DefaultRefreshTTL,
		refreshThreshold: DefaultRefreshThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewAccessToken signs a short-lived access token with a fresh jti.
func (c *Codec) NewAccessToken(userID, username, email string, roles []string) (Minted, error) {
	return c.mint(userID, username, email, roles, TypeAccess, c.accessTTL)
}

// NewRefreshToken signs a long-lived refresh token with a fresh jti.
func (c *Codec) NewRefreshToken(userID, username, email string, roles []string) (Minted, error) {
	return c.mint(userID, username, email, roles, TypeRefresh, c.refreshTTL)
}

// NewPair mints an access and a refresh token for the same identity. The two
// tokens never share a jti.
func (c *Codec) NewPair(userID, username, email string, roles []string) (Pair, error) {
	access, err := c.NewAccessToken(userID, username, email, roles)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := c.NewRefreshToken(userID, username, email, roles)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (c *Codec) mint(userID, username, email string, roles []string, typ Type, ttl time.Duration) (Minted, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Minted{}, errors.New("token: userID is required")
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := Claims{
		Username:  strings.TrimSpace(username),
		Email:     strings.TrimSpace(email),
		Roles:     normalizeRoles(roles),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Minted{}, fmt.Errorf("token: sign: %w", err)
	}
	return Minted{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// Verify checks signature, expiry, issuer, audience, and the type tag.
// Any failure collapses to ErrInvalidToken.
func (c *Codec) Verify(raw string, want Type) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != want {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnsafe decodes a token without verifying the signature or expiry.
// It exists so an expired or rejected token's jti can still be revoked.
// Its output must never be trusted for authorization.
func (c *Codec) DecodeUnsafe(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expired reports whether the claims' expiry has passed.
func (c *Codec) Expired(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return c.now().After(claims.ExpiresAt.Time)
}

// TimeRemaining returns the claims' remaining lifetime; zero when expired.
func (c *Codec) TimeRemaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := claims.ExpiresAt.Time.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldRefresh reports whether remaining lifetime has fallen below the
// rotation threshold.
func (c *Codec) ShouldRefresh(claims *Claims) bool {
	return c.TimeRemaining(claims) < c.refreshThreshold
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
