package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/tripmesh/tripmesh/internal/config"
)

// Applies goose migrations against the configured database.
//
//	go run ./cmd/migrate            # migrate up
//	go run ./cmd/migrate -down      # roll back one migration
//	go run ./cmd/migrate -status    # print migration status
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	down := flag.Bool("down", false, "roll back the most recent migration")
	status := flag.Bool("status", false, "print migration status")
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	switch {
	case *status:
		err = goose.StatusContext(ctx, db, *dir)
	case *down:
		err = goose.DownContext(ctx, db, *dir)
	default:
		err = goose.UpContext(ctx, db, *dir)
	}
	if err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("migrations complete")
}
