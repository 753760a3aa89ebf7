// Package httpapi exposes the authentication and session-management HTTP
// surface. Credentials travel exclusively in cookies; there is no header
// based scheme.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"wikichapters.org/internal/authflow"
	"wikichapters.org/internal/obs"
	"wikichapters.org/internal/roles"
)

// Options carries the request-independent settings of the API.
type Options struct {
	// Production switches on Secure cookies.
	Production bool
	Version    string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration

	// LoginRedirect is where the browser lands after a completed callback.
	LoginRedirect string
}

// API is the HTTP layer over the auth orchestrator.
type API struct {
	auth     *authflow.Service
	resolver *roles.Resolver
	db       *sql.DB
	logger   *zap.Logger
	opts     Options
	limiter  *ipLimiter
}

// New builds the API. db is only used for readiness probing.
func New(auth *authflow.Service, resolver *roles.Resolver, db *sql.DB, logger *zap.Logger, opts Options) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LoginRedirect == "" {
		opts.LoginRedirect = "/"
	}
	return &API{
		auth:     auth,
		resolver: resolver,
		db:       db,
		logger:   logger,
		opts:     opts,
		limiter:  newIPLimiter(),
	}
}

// Handler assembles the route table and middleware chain.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /v1/auth/login", a.rateLimited(http.HandlerFunc(a.handleLogin)))
	mux.Handle("GET /v1/auth/callback", a.rateLimited(http.HandlerFunc(a.handleCallback)))
	mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	mux.Handle("GET /v1/auth/whoami", a.withAuth(a.handleWhoami))

	mux.Handle("GET /v1/sessions", a.withAuth(a.handleListSessions))
	mux.Handle("DELETE /v1/sessions", a.withAuth(a.handleRevokeOthers))
	mux.Handle("DELETE /v1/sessions/{id}", a.withAuth(a.handleRevokeSession))

	mux.Handle("POST /v1/roles", a.withAuth(a.handleAssignRole))
	mux.Handle("DELETE /v1/roles", a.withAuth(a.handleRemoveRole))

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", obs.Handler())

	return obs.Instrument(a.securityHeaders(a.logRequests(mux)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	return r.Referer()
}
