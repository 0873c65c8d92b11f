// Command cleanup-games prunes finished games from the store. Records in a
// terminal status are immutable, so once their retention window passes they
// only take up space.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepulse/scorepulse/internal/store"
)

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		retention   = flag.Duration("retention", 30*24*time.Hour, "Keep terminal games updated within this window")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (don't delete anything)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Postgres URL required (--database or DATABASE_URL env)")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := store.Connect(ctx, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	cutoff := time.Now().Add(-*retention)
	slog.Info("Starting cleanup", "cutoff", cutoff.Format(time.RFC3339), "dry_run", *dryRun)

	gameStore := store.New(pool)

	if *dryRun {
		games, err := countTerminalBefore(ctx, pool, cutoff)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		slog.Info("Cleanup summary", "would_delete", games)
		return
	}

	start := time.Now()
	deleted, err := gameStore.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}

	slog.Info("Cleanup summary",
		"deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds())
}

func countTerminalBefore(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM games
		 WHERE status IN ('completed', 'cancelled', 'postponed', 'abandoned')
		   AND last_updated < $1`,
		cutoff).Scan(&n)
	return n, err
}
