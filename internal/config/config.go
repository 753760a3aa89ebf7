// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// MinSecretLength is the minimum accepted signing secret length in
	// production. Shorter secrets make HS256 brute-forceable.
	MinSecretLength = 32

	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config carries everything cmd/api needs to wire the service.
type Config struct {
	Env     string
	Addr    string
	DSN     string
	Version string

	// Token signing
	Secret   string
	Issuer   string
	Audience string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration

	// Wikimedia OAuth 1.0a consumer credentials and endpoints.
	OAuthConsumerKey    string
	OAuthConsumerSecret string
	OAuthBaseURL        string
	OAuthCallbackURL    string

	SweepInterval time.Duration
}

// Load reads WCS_* environment variables, applying defaults for anything
// optional. It does not validate; call Validate before use.
func Load() Config {
	return Config{
		Env:                 getenv("WCS_ENV", EnvDevelopment),
		Addr:                getenv("WCS_ADDR", ":8080"),
		DSN:                 os.Getenv("WCS_PG_DSN"),
		Secret:              os.Getenv("WCS_AUTH_SECRET"),
		Issuer:              getenv("WCS_AUTH_ISSUER", "wikichapters"),
		Audience:            getenv("WCS_AUTH_AUDIENCE", "wikichapters-web"),
		AccessTTL:           getdur("WCS_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:          getdur("WCS_REFRESH_TTL", 7*24*time.Hour),
		SessionTTL:          getdur("WCS_SESSION_TTL", 30*24*time.Hour),
		OAuthConsumerKey:    os.Getenv("WCS_OAUTH_CONSUMER_KEY"),
		OAuthConsumerSecret: os.Getenv("WCS_OAUTH_CONSUMER_SECRET"),
		OAuthBaseURL:        getenv("WCS_OAUTH_BASE_URL", "https://meta.wikimedia.org/w"),
		OAuthCallbackURL:    getenv("WCS_OAUTH_CALLBACK_URL", "http://localhost:8080/v1/auth/callback"),
		SweepInterval:       getdur("WCS_SWEEP_INTERVAL", time.Hour),
	}
}

// Validate reports fatal configuration errors. A weak or missing signing
// secret is a startup failure, never a request-time one.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("config: WCS_PG_DSN is required")
	}
	secret := strings.TrimSpace(c.Secret)
	if secret == "" {
		return errors.New("config: WCS_AUTH_SECRET is required")
	}
	if c.Production() && len(secret) < MinSecretLength {
		return fmt.Errorf("config: WCS_AUTH_SECRET must be at least %d bytes in production", MinSecretLength)
	}
	if c.OAuthConsumerKey == "" || c.OAuthConsumerSecret == "" {
		return errors.New("config: WCS_OAUTH_CONSUMER_KEY and WCS_OAUTH_CONSUMER_SECRET are required")
	}
	return nil
}

// Production reports whether the service runs with production hardening
// (secure cookies, strict secret length).
func (c Config) Production() bool {
	return c.Env == EnvProduction
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
