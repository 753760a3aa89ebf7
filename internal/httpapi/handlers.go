package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wikichapters.org/internal/identity"
	"wikichapters.org/internal/roles"
	"wikichapters.org/internal/session"
)

// handleLogin starts the provider handshake and sends the browser to the
// authorization page. The temporary credentials ride in short-lived cookies
// so the callback can finish the exchange.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := a.auth.BeginLogin(r.Context())
	if err != nil {
		a.logger.Error("begin login failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "provider_unavailable")
		return
	}
	a.setOAuthCookies(w, start.Credentials.Token, start.Credentials.Secret)
	http.Redirect(w, r, start.AuthorizeURL, http.StatusFound)
}

// handleCallback finishes the handshake. The oauth_token echoed by the
// provider must match the one we stashed; a mismatch means the callback
// does not belong to this browser's login attempt.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	verifier := r.URL.Query().Get("oauth_verifier")
	echoed := r.URL.Query().Get("oauth_token")
	creds := identity.RequestCredentials{
		Token:  cookieValue(r, cookieOAuthToken),
		Secret: cookieValue(r, cookieOAuthSecret),
	}
	a.clearOAuthCookies(w)

	if verifier == "" || creds.Token == "" || creds.Secret == "" || echoed != creds.Token {
		writeError(w, http.StatusUnauthorized, "login_failed")
		return
	}

	meta := session.Metadata{
		Origin:    requestOrigin(r),
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
	res, err := a.auth.CompleteLogin(r.Context(), creds, verifier, meta)
	switch {
	case errors.Is(err, identity.ErrInactive):
		writeError(w, http.StatusForbidden, "account_deactivated")
		return
	case errors.Is(err, identity.ErrProviderRejected):
		writeError(w, http.StatusUnauthorized, "login_failed")
		return
	case err != nil:
		a.logger.Error("complete login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	a.setAuthCookies(w, res.Pair, res.Session.ID)
	http.Redirect(w, r, a.opts.LoginRedirect, http.StatusSeeOther)
}

// handleLogout is deliberately unauthenticated: even a request with a
// half-expired cookie jar must be able to tear itself down.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), credentialsFrom(r)); err != nil {
		a.logger.Error("logout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	a.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    p.UserID,
		"username":   p.Username,
		"roles":      p.Roles,
		"session_id": p.SessionID,
	})
}

type sessionView struct {
	ID         string         `json:"id"`
	Current    bool           `json:"current"`
	Device     session.Device `json:"device"`
	IPAddress  string         `json:"ip_address"`
	CreatedAt  time.Time      `json:"created_at"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	list, err := a.auth.ListSessions(r.Context(), p.UserID)
	if err != nil {
		a.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	views := make([]sessionView, 0, len(list))
	for _, s := range list {
		views = append(views, sessionView{
			ID:         s.ID,
			Current:    s.ID == p.SessionID,
			Device:     s.Device,
			IPAddress:  s.IPAddress,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	err := a.auth.RevokeOwnedSession(r.Context(), p.UserID, r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if err != nil {
		a.logger.Error("revoke session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	n, err := a.auth.RevokeOtherSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		a.logger.Error("revoke other sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

type roleChange struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Chapter string `json:"chapter,omitempty"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.resolver.Assign)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.resolver.Remove)
}

// changeRole handles both grant and revoke; out-of-scope attempts answer
// 403 so a chapter admin cannot probe which users exist elsewhere.
func (a *API) changeRole(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, roles.Assignment) error) {
	p, _ := PrincipalFrom(r.Context())

	var body roleChange
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body")
		return
	}
	if body.UserID == "" || body.Role == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	err := apply(r.Context(), p.UserID, roles.Assignment{
		UserID:  body.UserID,
		Role:    body.Role,
		Chapter: body.Chapter,
	})
	switch {
	case errors.Is(err, roles.ErrUnknownRole):
		writeError(w, http.StatusBadRequest, "unknown_role")
	case errors.Is(err, roles.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied")
	case errors.Is(err, roles.ErrNotAssigned):
		writeError(w, http.StatusNotFound, "role_not_assigned")
	case err != nil:
		a.logger.Error("role change failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
