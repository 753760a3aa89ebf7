package httpapi

import (
	"net/http"

	"wikichapters.org/internal/authflow"
	"wikichapters.org/internal/token"
)

// Cookie names. The three auth cookies live for the whole site; the two
// oauth cookies only bridge the redirect to the identity provider.
const (
	cookieAccess  = "wcs_access"
	cookieRefresh = "wcs_refresh"
	cookieSession = "wcs_session"

	cookieOAuthToken  = "wcs_oauth_token"
	cookieOAuthSecret = "wcs_oauth_secret"

	oauthCookieMaxAge = 600
)

func (a *API) newCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.opts.Production,
		SameSite: http.SameSiteLaxMode,
	}
}

// setAuthCookies delivers a freshly minted pair. The session cookie is only
// rewritten when a session id is known, so a rotation without one does not
// wipe the device session.
func (a *API) setAuthCookies(w http.ResponseWriter, pair token.Pair, sessionID string) {
	http.SetCookie(w, a.newCookie(cookieAccess, pair.Access.Token, int(a.opts.AccessTTL.Seconds())))
	http.SetCookie(w, a.newCookie(cookieRefresh, pair.Refresh.Token, int(a.opts.RefreshTTL.Seconds())))
	if sessionID != "" {
		http.SetCookie(w, a.newCookie(cookieSession, sessionID, int(a.opts.SessionTTL.Seconds())))
	}
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieAccess, cookieRefresh, cookieSession} {
		http.SetCookie(w, a.newCookie(name, "", -1))
	}
}

func (a *API) setOAuthCookies(w http.ResponseWriter, token, secret string) {
	http.SetCookie(w, a.newCookie(cookieOAuthToken, token, oauthCookieMaxAge))
	http.SetCookie(w, a.newCookie(cookieOAuthSecret, secret, oauthCookieMaxAge))
}

func (a *API) clearOAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.newCookie(cookieOAuthToken, "", -1))
	http.SetCookie(w, a.newCookie(cookieOAuthSecret, "", -1))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// credentialsFrom collects whatever auth cookies the request carries.
func credentialsFrom(r *http.Request) authflow.Credentials {
	return authflow.Credentials{
		AccessToken:  cookieValue(r, cookieAccess),
		RefreshToken: cookieValue(r, cookieRefresh),
		SessionID:    cookieValue(r, cookieSession),
	}
}
