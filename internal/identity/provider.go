package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/golang-jwt/jwt/v5"
)

// ErrProviderRejected covers every upstream failure during login: network
// errors, timeouts, non-2xx responses, and malformed assertions. The caller
// surfaces a generic "authentication failed" and logs the cause server-side.
var ErrProviderRejected = errors.New("identity: provider rejected authorization")

// Identity is what the provider asserts about the logged-in account.
type Identity struct {
	ProviderID string
	Username   string
	Email      string
	Registered time.Time
}

// RequestCredentials are the temporary OAuth 1.0a credentials issued at the
// start of a handshake. The secret travels only in a short-lived httpOnly
// cookie, never to the provider.
type RequestCredentials struct {
	Token  string
	Secret string
}

// Provider abstracts the external identity provider for the orchestrator
// and its tests.
type Provider interface {
	// BeginAuthorization obtains temporary credentials and the URL to
	// redirect the user to.
	BeginAuthorization(ctx context.Context) (RequestCredentials, string, error)
	// Exchange trades the verifier from the provider's callback for a
	// confirmed identity assertion.
	Exchange(ctx context.Context, creds RequestCredentials, verifier string) (Identity, error)
}

const defaultExchangeTimeout = 10 * time.Second

// Wikimedia implements Provider against the MediaWiki OAuth 1.0a extension.
// Request signing (HMAC-SHA1) is delegated to the oauth1 library.
type Wikimedia struct {
	config      *oauth1.Config
	identifyURL string
	timeout     time.Duration
}

// WikimediaOption configures the provider client.
type WikimediaOption func(*Wikimedia)

// WithExchangeTimeout bounds every upstream call. A timeout is treated the
// same as a provider rejection.
func WithExchangeTimeout(d time.Duration) WikimediaOption {
	return func(w *Wikimedia) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewWikimedia builds a provider client for the MediaWiki installation at
// baseURL (e.g. https://meta.wikimedia.org/w).
func NewWikimedia(consumerKey, consumerSecret, baseURL, callbackURL string, opts ...WikimediaOption) *Wikimedia {
	baseURL = strings.TrimRight(baseURL, "/")
	w := &Wikimedia{
		config: &oauth1.Config{
			ConsumerKey:    consumerKey,
			ConsumerSecret: consumerSecret,
			CallbackURL:    callbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: baseURL + "/index.php?title=Special:OAuth/initiate",
				AuthorizeURL:    baseURL + "/index.php?title=Special:OAuth/authorize",
				AccessTokenURL:  baseURL + "/index.php?title=Special:OAuth/token",
			},
		},
		identifyURL: baseURL + "/index.php?title=Special:OAuth/identify",
		timeout:     defaultExchangeTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// withTimeout bounds the wait on library calls that take no context. On
// timeout the underlying call is abandoned and its eventual result dropped.
func (w *Wikimedia) withTimeout(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Wikimedia) BeginAuthorization(ctx context.Context) (RequestCredentials, string, error) {
	var requestToken, requestSecret string
	err := w.withTimeout(ctx, func() error {
		var err error
		requestToken, requestSecret, err = w.config.RequestToken()
		return err
	})
	if err != nil {
		return RequestCredentials{}, "", fmt.Errorf("%w: request token: %v", ErrProviderRejected, err)
	}
	authorizeURL, err := w.config.AuthorizationURL(requestToken)
	if err != nil {
		return RequestCredentials{}, "", fmt.Errorf("%w: authorize url: %v", ErrProviderRejected, err)
	}
	return RequestCredentials{Token: requestToken, Secret: requestSecret}, authorizeURL.String(), nil
}

func (w *Wikimedia) Exchange(ctx context.Context, creds RequestCredentials, verifier string) (Identity, error) {
	if creds.Token == "" || creds.Secret == "" || verifier == "" {
		return Identity{}, ErrProviderRejected
	}
	var accessToken, accessSecret string
	err := w.withTimeout(ctx, func() error {
		var err error
		accessToken, accessSecret, err = w.config.AccessToken(creds.Token, creds.Secret, verifier)
		return err
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: access token: %v", ErrProviderRejected, err)
	}

	client := w.config.Client(ctx, oauth1.NewToken(accessToken, accessSecret))
	client.Timeout = w.timeout

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.identifyURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identify request: %v", ErrProviderRejected, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identify call: %v", ErrProviderRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: identify status %d", ErrProviderRejected, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identify read: %v", ErrProviderRejected, err)
	}

	return decodeAssertion(strings.TrimSpace(string(body)))
}

// assertionClaims is the JWT payload returned by Special:OAuth/identify.
type assertionClaims struct {
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	Registered string `json:"registered,omitempty"`
	jwt.RegisteredClaims
}

// decodeAssertion extracts the identity claims without signature
// verification: the assertion is self-asserted by the trusted provider
// endpoint over TLS and is never used as a bearer credential here.
func decodeAssertion(raw string) (Identity, error) {
	claims := &assertionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: malformed assertion: %v", ErrProviderRejected, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	username := strings.TrimSpace(claims.Username)
	if sub == "" || username == "" {
		return Identity{}, fmt.Errorf("%w: assertion missing subject or username", ErrProviderRejected)
	}
	id := Identity{
		ProviderID: sub,
		Username:   username,
		Email:      strings.TrimSpace(claims.Email),
	}
	// MediaWiki reports registration as yyyymmddhhmmss.
	if ts, err := time.Parse("20060102150405", claims.Registered); err == nil {
		id.Registered = ts
	}
	return id, nil
}
