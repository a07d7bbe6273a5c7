// Package main is the entrypoint for the SIGAE sync worker.
//
// One process runs the whole pipeline: the schedule runner that fires the
// recurring discovery job, a single-slot consumer for discovery passes, a
// bounded-concurrency consumer for per-incident sync jobs, a stale-claim
// sweeper, and the ops HTTP surface. Shutdown is signal-driven and graceful:
// consumers stop claiming, in-flight jobs drain, then the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"golang.org/x/sync/errgroup"

	"sigsync/internal/config"
	"sigsync/internal/db"
	"sigsync/internal/ops"
	"sigsync/internal/queue"
	"sigsync/internal/sigae"
	incidentsync "sigsync/internal/sync"
	"sigsync/internal/telemetry"
	"sigsync/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("sigae sync worker starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"discovery_cron", cfg.Sync.DiscoveryCron,
		"concurrency", cfg.Sync.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	metrics, err := newMetrics(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	repo := db.NewIncidentRepository(pool)
	jobs := queue.NewPGQueue(pool, logger)
	apiClient := sigae.NewClient(cfg.Sigae)

	// The discovery schedule is registered at startup; an unchanged cron
	// pattern keeps its current next-fire time across restarts.
	if err := jobs.RegisterRecurring(ctx, types.ScheduleDiscovery, types.QueueDiscovery,
		cfg.Sync.DiscoveryCron, types.DiscoveryJobPayload{}); err != nil {
		return fmt.Errorf("registering discovery schedule: %w", err)
	}

	discoverer := incidentsync.NewDiscoverer(apiClient, repo, jobs, metrics, cfg.Sync.PageSize, logger)
	syncer := incidentsync.NewSyncer(incidentsync.SyncerConfig{
		API:          apiClient,
		Store:        repo,
		Jobs:         jobs,
		Metrics:      metrics,
		RequeueDelay: cfg.Sync.RequeueDelay,
		ClosingAge:   cfg.Sync.ClosingAge,
		Logger:       logger,
	})

	scheduleRunner := queue.NewScheduleRunner(jobs, cfg.Sync.PollInterval, logger)

	// Discovery runs with concurrency 1: never more than one pass in flight.
	discoveryConsumer := queue.NewConsumer(queue.ConsumerConfig{
		Source:       jobs,
		Queue:        types.QueueDiscovery,
		Concurrency:  1,
		PollInterval: cfg.Sync.PollInterval,
		Handler:      discoverer.Handler(),
		Logger:       logger,
		RecordLag: func(ctx context.Context, lag time.Duration) {
			metrics.RecordQueueLag(ctx, types.QueueDiscovery, lag)
		},
	})

	syncConsumer := queue.NewConsumer(queue.ConsumerConfig{
		Source:       jobs,
		Queue:        types.QueueOpenIncidents,
		Concurrency:  cfg.Sync.Concurrency,
		PollInterval: cfg.Sync.PollInterval,
		Handler:      syncer.Handler(),
		Logger:       logger,
		RecordLag: func(ctx context.Context, lag time.Duration) {
			metrics.RecordQueueLag(ctx, types.QueueOpenIncidents, lag)
		},
	})

	opsServer := ops.NewServer(cfg.Ops.Port, []ops.HealthProbe{
		&ops.PoolProbe{Pool: pool},
		&ops.QueueProbe{Stats: jobs},
	}, jobs, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(scheduleRunner.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(discoveryConsumer.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(syncConsumer.Run(gctx)) })
	g.Go(func() error { return opsServer.Run(gctx) })
	g.Go(func() error { return reclaimLoop(gctx, jobs, cfg.Sync.ClaimTTL, logger) })

	logger.Info("sigae sync worker running", "ops_port", cfg.Ops.Port)
	err = g.Wait()
	logger.Info("sigae sync worker stopped")
	return err
}

// reclaimLoop periodically returns jobs abandoned by crashed workers to the
// pending state. It sweeps at half the claim TTL so no claim outlives two
// sweeps.
func reclaimLoop(ctx context.Context, jobs *queue.PGQueue, ttl time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := jobs.ReclaimStale(ctx, ttl)
			if err != nil {
				logger.ErrorContext(ctx, "stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "reclaimed stale jobs", "count", n)
			}
		}
	}
}

// newMetrics wires the CloudWatch recorder, or a no-op one when publishing
// is disabled.
func newMetrics(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (telemetry.Metrics, error) {
	if !cfg.EnableCloudWatch {
		return telemetry.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// ignoreCanceled suppresses the context.Canceled a loop returns on a clean
// shutdown so it does not surface as a startup failure.
func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
