package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal is the verified identity attached to a request after withAuth.
type Principal struct {
	UserID    string
	Username  string
	SessionID string
	Roles     []string
}

// PrincipalFrom extracts the verified principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// withAuth runs the verify / refresh-if-stale / reject decision on every
// request it guards. Store failures answer 500; any credential problem
// answers 401 with the cookies cleared so the browser stops replaying them.
func (a *API) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := a.auth.VerifyRequest(r.Context(), credentialsFrom(r))
		if err != nil {
			a.logger.Error("verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if !res.Authenticated {
			a.clearAuthCookies(w)
			writeError(w, http.StatusUnauthorized, string(res.Reason))
			return
		}
		if res.Rotated {
			a.setAuthCookies(w, *res.Pair, res.SessionID)
		}
		p := &Principal{
			UserID:    res.UserID,
			Username:  res.Username,
			SessionID: res.SessionID,
			Roles:     res.Roles,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// ipLimiter throttles the login endpoints per client address, keeping token
// minting off the table for credential-stuffing traffic.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{visitors: make(map[string]*rate.Limiter)}
}

// TODO: evict idle visitor entries once the map grows past a few thousand.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.visitors[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 5)
		l.visitors[ip] = lim
	}
	return lim.Allow()
}

func (a *API) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
