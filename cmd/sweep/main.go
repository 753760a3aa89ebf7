// Command sweep removes expired sessions and prunable revocation entries in
// one shot. Intended to run from cron in deployments where the api process
// does not sweep itself.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"wikichapters.org/internal/revocation"
	"wikichapters.org/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dsn := os.Getenv("WCS_PG_DSN")
	if dsn == "" {
		return fmt.Errorf("WCS_PG_DSN is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sessions, err := session.NewPGStore(db).DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	revoked, err := revocation.NewPGRegistry(db).Purge(ctx)
	if err != nil {
		return fmt.Errorf("sweep revoked tokens: %w", err)
	}

	log.Printf("swept %d sessions, %d revoked tokens", sessions, revoked)
	return nil
}
