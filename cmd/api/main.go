// Command api runs the wikichapters authentication and session service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"wikichapters.org/internal/audit"
	"wikichapters.org/internal/authflow"
	"wikichapters.org/internal/config"
	"wikichapters.org/internal/httpapi"
	"wikichapters.org/internal/identity"
	"wikichapters.org/internal/migrate"
	"wikichapters.org/internal/obs"
	"wikichapters.org/internal/revocation"
	"wikichapters.org/internal/roles"
	"wikichapters.org/internal/session"
	"wikichapters.org/internal/token"
)

var version = "dev"

func main() {
	cfg := config.Load()
	cfg.Version = version
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := obs.NewLogger(cfg.Production())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	if !cfg.Production() {
		// Production applies migrations through cmd/migrate before rollout.
		if err := migrate.Up(ctx, db); err != nil {
			return err
		}
	}

	codec, err := token.New(cfg.Secret,
		token.WithIssuer(cfg.Issuer),
		token.WithAudience(cfg.Audience),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return err
	}

	auditLog := audit.NewPGLog(db)
	sessions := session.NewPGStore(db, session.WithTTL(cfg.SessionTTL))
	revoked := revocation.NewPGRegistry(db)
	users := identity.NewPGStore(db)
	resolver := roles.NewResolver(roles.NewPGStore(db), auditLog, logger)
	provider := identity.NewWikimedia(
		cfg.OAuthConsumerKey, cfg.OAuthConsumerSecret,
		cfg.OAuthBaseURL, cfg.OAuthCallbackURL,
	)

	auth := authflow.New(codec, sessions, revoked, users, resolver, provider, auditLog,
		authflow.WithLogger(logger))

	api := httpapi.New(auth, resolver, db, logger, httpapi.Options{
		Production: cfg.Production(),
		Version:    version,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		SessionTTL: cfg.SessionTTL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go sweepLoop(ctx, auth, cfg.SweepInterval, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("version", version))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// sweepLoop periodically removes expired sessions and prunable revocation
// entries. Deployments with an external scheduler can set the interval high
// and rely on cmd/sweep instead.
func sweepLoop(ctx context.Context, auth *authflow.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := auth.Sweep(ctx); err != nil {
				logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}
