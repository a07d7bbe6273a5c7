// Package main implements the enqueue CLI tool for forcing a sync of one
// incident, bypassing discovery.
//
// This is intended for operational debugging: re-tracking an incident whose
// job chain ended (for example after its payload was parked as failed), or
// pulling in an incident older than the discovery page.
//
// Usage:
//
//	go run ./cmd/tools/enqueue --incident=12345
//	go run ./cmd/tools/enqueue --incident=12345 --delay=5m
//
// The tool reads DATABASE_URL from the environment (or a .env file via
// godotenv). Enqueueing an incident that already has a pending job replaces
// that job's run time rather than creating a duplicate.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"sigsync/internal/queue"
	"sigsync/internal/types"
)

func main() {
	incidentID := flag.Int64("incident", 0, "SIGAE incident id to enqueue (required)")
	delay := flag.Duration("delay", 0, "delay before the job becomes eligible")
	flag.Parse()

	if *incidentID <= 0 {
		fmt.Fprintln(os.Stderr, "error: --incident is required and must be positive")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*incidentID, *delay); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(incidentID int64, delay time.Duration) error {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Queue writes only; keep the tool's log output out of the way.
	jobs := queue.NewPGQueue(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))

	traceID := "enqueue-tool-" + uuid.NewString()
	payload := types.SyncJobPayload{IncidentID: incidentID, TraceID: traceID}
	dedupKey := strconv.FormatInt(incidentID, 10)

	if err := jobs.Enqueue(ctx, types.QueueOpenIncidents, dedupKey, payload, delay); err != nil {
		return fmt.Errorf("enqueueing incident %d: %w", incidentID, err)
	}

	fmt.Printf("enqueued incident %d on %s (delay %s, trace %s)\n",
		incidentID, types.QueueOpenIncidents, delay, traceID)
	return nil
}
