// Package authflow implements the authentication control flow: exchanging a
// Wikimedia identity for a local account, minting token pairs, and the
// verify / refresh-if-stale / reject decision applied to every
// authenticated request.
//
// Each attempt walks Unauthenticated → TokenPresented → Verified →
// (RefreshTriggered) → Authorized, or lands in Rejected from any state.
// The walk is per-request; nothing here holds state between requests, so
// handlers can run it concurrently with no in-process locks.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wikichapters.org/internal/audit"
	"wikichapters.org/internal/identity"
	"wikichapters.org/internal/obs"
	"wikichapters.org/internal/revocation"
	"wikichapters.org/internal/roles"
	"wikichapters.org/internal/session"
	"wikichapters.org/internal/token"
)

// Reason classifies a rejection for logging and client UX. It never grants
// extra trust: all three map to the same 401 at the boundary.
type Reason string

const (
	ReasonNone    Reason = "no_credentials"
	ReasonInvalid Reason = "invalid_credentials"
	ReasonRevoked Reason = "revoked"
)

// Credentials are the raw cookie values presented with a request; empty
// strings mean the cookie was absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// Result is the outcome of a verification attempt. When Rotated is set the
// caller must deliver Pair to the client as fresh cookies.
type Result struct {
	Authenticated bool
	UserID        string
	Username      string
	Roles         []string
	SessionID     string
	Rotated       bool
	Pair          *token.Pair
	Reason        Reason
}

// Grants applies the role policy to the verified claims.
func (r *Result) Grants(cap roles.Capability, chapter string) bool {
	return r.Authenticated && roles.ClaimsGrant(r.Roles, cap, chapter)
}

// LoginStart carries what the HTTP layer needs to send the user to the
// provider: temporary credentials (stashed in a short-lived cookie) and the
// redirect target.
type LoginStart struct {
	Credentials  identity.RequestCredentials
	AuthorizeURL string
}

// LoginResult is a completed login: local user, fresh token pair, and the
// device session recorded for it.
type LoginResult struct {
	User    *identity.User
	Roles   []string
	Pair    token.Pair
	Session *session.Session
}

// Service orchestrates the token, session, revocation, identity, and role
// components. All shared state lives in the store; the service itself is
// safe for concurrent use.
type Service struct {
	codec    *token.Codec
	sessions session.Store
	revoked  revocation.Registry
	users    identity.Store
	roles    *roles.Resolver
	provider identity.Provider
	audit    audit.Log
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New wires the orchestrator.
func New(
	codec *token.Codec,
	sessions session.Store,
	revoked revocation.Registry,
	users identity.Store,
	resolver *roles.Resolver,
	provider identity.Provider,
	auditLog audit.Log,
	opts ...Option,
) *Service {
	s := &Service{
		codec:    codec,
		sessions: sessions,
		revoked:  revoked,
		users:    users,
		roles:    resolver,
		provider: provider,
		audit:    auditLog,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginLogin starts the handshake with the identity provider.
func (s *Service) BeginLogin(ctx context.Context) (LoginStart, error) {
	creds, authorizeURL, err := s.provider.BeginAuthorization(ctx)
	if err != nil {
		return LoginStart{}, err
	}
	return LoginStart{Credentials: creds, AuthorizeURL: authorizeURL}, nil
}

// CompleteLogin exchanges the provider callback for a confirmed identity,
// finds or creates the local user, mints a token pair, and records a device
// session. Provider failures return identity.ErrProviderRejected wrapped; no
// partial session is ever left behind because nothing is persisted before
// the exchange succeeds.
func (s *Service) CompleteLogin(ctx context.Context, creds identity.RequestCredentials, verifier string, meta session.Metadata) (*LoginResult, error) {
	ext, err := s.provider.Exchange(ctx, creds, verifier)
	if err != nil {
		s.logger.Warn("identity exchange failed", zap.Error(err))
		return nil, err
	}

	user, err := s.users.FindByProviderID(ctx, ext.ProviderID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		user = &identity.User{
			ProviderID: ext.ProviderID,
			Username:   ext.Username,
			Email:      ext.Email,
			Active:     true,
			Claimed:    true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("authflow: create user: %w", err)
		}
		if err := s.roles.EnsureDefault(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("authflow: default role: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("authflow: find user: %w", err)
	}

	if !user.Active {
		return nil, identity.ErrInactive
	}

	user.Username = ext.Username
	if ext.Email != "" {
		user.Email = ext.Email
	}
	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, user, now); err != nil {
		return nil, fmt.Errorf("authflow: touch login: %w", err)
	}
	user.Claimed = true
	user.LastLoginAt = now

	roleClaims, err := s.roles.RoleClaims(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("authflow: resolve roles: %w", err)
	}

	pair, err := s.codec.NewPair(user.ID, user.Username, user.Email, roleClaims)
	if err != nil {
		return nil, fmt.Errorf("authflow: mint pair: %w", err)
	}
	sess, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("authflow: create session: %w", err)
	}

	obs.TokenPairsIssued.WithLabelValues("login").Inc()
	s.appendAudit(ctx, user.ID, "auth.login", map[string]any{
		"session_id": sess.ID,
		"device":     sess.Device.Class,
	})
	s.logger.Info("login completed",
		zap.String("user", user.ID),
		zap.String("username", user.Username),
		zap.String("session", sess.ID),
	)

	return &LoginResult{User: user, Roles: roleClaims, Pair: pair, Session: sess}, nil
}

// VerifyRequest is the per-request decision. A non-nil error means the
// store failed and the caller should answer with a generic server error;
// every credential problem comes back as a Result with Authenticated=false.
func (s *Service) VerifyRequest(ctx context.Context, creds Credentials) (*Result, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return s.reject(ReasonNone), nil
	}

	claims, err := s.codec.Verify(creds.AccessToken, token.TypeAccess)
	if err != nil {
		// Invalid or expired access token: a valid refresh token may still
		// rescue the request.
		if creds.RefreshToken != "" {
			return s.rotate(ctx, creds)
		}
		return s.reject(ReasonInvalid), nil
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("authflow: revocation check: %w", err)
	}
	if revoked {
		// Explicitly invalidated credentials are never refreshable.
		return s.reject(ReasonRevoked), nil
	}

	if s.codec.ShouldRefresh(claims) && creds.RefreshToken != "" {
		return s.rotate(ctx, creds)
	}

	s.touchSession(ctx, creds.SessionID)
	return &Result{
		Authenticated: true,
		UserID:        claims.Subject,
		Username:      claims.Username,
		Roles:         claims.Roles,
		SessionID:     creds.SessionID,
	}, nil
}

// rotate verifies the refresh token and mints a new pair. Revoking the old
// refresh jti is committed before minting: a concurrent attempt with the
// same token observes the primary-key conflict and is hard-rejected, so at
// most one of two racing refreshes succeeds.
func (s *Service) rotate(ctx context.Context, creds Credentials) (*Result, error) {
	claims, err := s.codec.Verify(creds.RefreshToken, token.TypeRefresh)
	if err != nil {
		return s.reject(ReasonInvalid), nil
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("authflow: revocation check: %w", err)
	}
	if revoked {
		s.logger.Warn("refresh token reuse detected", zap.String("user", claims.Subject))
		return s.reject(ReasonRevoked), nil
	}

	user, err := s.users.Find(ctx, claims.Subject)
	if errors.Is(err, identity.ErrNotFound) {
		return s.reject(ReasonInvalid), nil
	}
	if err != nil {
		return nil, fmt.Errorf("authflow: find user: %w", err)
	}
	if !user.Active {
		return s.reject(ReasonInvalid), nil
	}

	// Roles are read fresh so a rotation picks up assignment changes.
	roleClaims, err := s.roles.RoleClaims(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("authflow: resolve roles: %w", err)
	}

	fresh, err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("authflow: revoke rotated token: %w", err)
	}
	if !fresh {
		// Lost the race: another request already rotated this token.
		s.logger.Warn("concurrent refresh rejected", zap.String("user", user.ID))
		return s.reject(ReasonRevoked), nil
	}

	pair, err := s.codec.NewPair(user.ID, user.Username, user.Email, roleClaims)
	if err != nil {
		return nil, fmt.Errorf("authflow: mint pair: %w", err)
	}

	s.touchSession(ctx, creds.SessionID)
	obs.TokenPairsIssued.WithLabelValues("rotation").Inc()
	s.logger.Debug("token pair rotated", zap.String("user", user.ID))

	return &Result{
		Authenticated: true,
		UserID:        user.ID,
		Username:      user.Username,
		Roles:         roleClaims,
		SessionID:     creds.SessionID,
		Rotated:       true,
		Pair:          &pair,
	}, nil
}

// Logout revokes both token jtis and deletes the device session. It is
// idempotent and tolerates expired or mangled tokens: whatever can still be
// decoded gets revoked, the rest is already unusable.
func (s *Service) Logout(ctx context.Context, creds Credentials) error {
	var userID string
	for _, raw := range []string{creds.AccessToken, creds.RefreshToken} {
		claims, err := s.codec.DecodeUnsafe(raw)
		if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
			continue
		}
		if _, err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return fmt.Errorf("authflow: revoke on logout: %w", err)
		}
		userID = claims.Subject
	}
	if err := s.sessions.Revoke(ctx, creds.SessionID); err != nil {
		return fmt.Errorf("authflow: revoke session: %w", err)
	}
	if userID != "" {
		s.appendAudit(ctx, userID, "auth.logout", map[string]any{"session_id": creds.SessionID})
	}
	return nil
}

// ListSessions returns the user's active device sessions, newest activity
// first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return s.sessions.List(ctx, userID)
}

// RevokeOwnedSession deletes one of the user's sessions. An id that does
// not exist is a no-op; an id owned by someone else reports not-found
// rather than revealing the session.
func (s *Service) RevokeOwnedSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return session.ErrNotFound
	}
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeOtherSessions implements "log out other devices": every session of
// the user except the current one is removed.
func (s *Service) RevokeOtherSessions(ctx context.Context, userID, currentSessionID string) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, userID, currentSessionID)
	if err != nil {
		return 0, err
	}
	s.appendAudit(ctx, userID, "auth.logout_others", map[string]any{"removed": n})
	return n, nil
}

// Sweep removes expired sessions and prunable revocation entries. It is
// invoked by an external scheduler (or the dev-mode ticker in cmd/api),
// never by request traffic.
func (s *Service) Sweep(ctx context.Context) error {
	sessions, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("authflow: sweep sessions: %w", err)
	}
	revoked, err := s.revoked.Purge(ctx)
	if err != nil {
		return fmt.Errorf("authflow: purge revocations: %w", err)
	}
	obs.SessionsSwept.WithLabelValues("sessions").Add(float64(sessions))
	obs.SessionsSwept.WithLabelValues("revoked_tokens").Add(float64(revoked))
	if sessions > 0 || revoked > 0 {
		s.logger.Info("expired rows swept",
			zap.Int64("sessions", sessions),
			zap.Int64("revoked_tokens", revoked),
		)
	}
	return nil
}

func (s *Service) reject(reason Reason) *Result {
	obs.AuthRejections.WithLabelValues(string(reason)).Inc()
	return &Result{Reason: reason}
}

// touchSession refreshes last-activity bookkeeping; a missing or malformed
// session id only degrades the device list, never the authentication.
func (s *Service) touchSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("session touch failed", zap.Error(err))
	}
}

func (s *Service) appendAudit(ctx context.Context, userID, action string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.Entry{ActorID: userID, Action: action, TargetType: "user", TargetID: userID, Fields: fields}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", zap.String("action", action), zap.Error(err))
	}
}
