// Command migrate applies or rolls back the database schema.
//
// Usage:
//
//	WCS_PG_DSN=postgres://... migrate [up|down]
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"wikichapters.org/internal/migrate"
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
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch direction {
	case "up":
		return migrate.Up(ctx, db)
	case "down":
		return migrate.Down(ctx, db)
	default:
		return fmt.Errorf("unknown direction %q (want up or down)", direction)
	}
}
