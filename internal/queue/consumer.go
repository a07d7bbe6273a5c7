package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sigsync/internal/types"
)

// JobSource abstracts the claim/complete/fail operations a Consumer needs.
// Production code uses *PGQueue; tests use an in-memory fake.
type JobSource interface {
	Claim(ctx context.Context, queueName string, limit int) ([]Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

// Handler processes one claimed job. Returning nil completes and removes the
// job; returning an error marks it failed (queue-level failure, reported
// through OnFailure) without any automatic queue-level retry.
type Handler func(ctx context.Context, job Job) error

// ConsumerConfig holds the wiring for a Consumer.
type ConsumerConfig struct {
	Source       JobSource
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	Handler      Handler
	Logger       *slog.Logger
	// OnFailure is the failure channel for handler errors. Optional; failures
	// are always logged regardless.
	OnFailure func(job Job, err error)
	// RecordLag, when set, receives the delay between a job becoming eligible
	// and it being dispatched to a handler.
	RecordLag func(ctx context.Context, lag time.Duration)
}

// Consumer polls one queue and dispatches eligible jobs to the handler with
// bounded concurrency. At most Concurrency handlers run in parallel; claiming
// is throttled so jobs are never marked running while no slot is free.
type Consumer struct {
	source       JobSource
	queue        string
	concurrency  int
	pollInterval time.Duration
	handler      Handler
	logger       *slog.Logger
	onFailure    func(job Job, err error)
	recordLag    func(ctx context.Context, lag time.Duration)

	inflight atomic.Int64
}

// NewConsumer creates a Consumer from the given configuration.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		source:       cfg.Source,
		queue:        cfg.Queue,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		handler:      cfg.Handler,
		logger:       logger,
		onFailure:    cfg.OnFailure,
		recordLag:    cfg.RecordLag,
	}
}

// Run polls until ctx is canceled, then waits for in-flight handlers to
// drain. In-flight jobs get a context detached from the shutdown signal so a
// sync already talking to SIGAE can finish and record its outcome.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "consumer draining",
				"queue", c.queue,
				"inflight", c.inflight.Load(),
			)
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.pollOnce(ctx, &wg)
		}
	}
}

// pollOnce claims up to the number of free slots and dispatches each claimed
// job on its own goroutine.
func (c *Consumer) pollOnce(ctx context.Context, wg *sync.WaitGroup) {
	free := c.concurrency - int(c.inflight.Load())
	if free <= 0 {
		return
	}

	jobs, err := c.source.Claim(ctx, c.queue, free)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to claim jobs",
			"queue", c.queue,
			"error", err,
		)
		return
	}

	for _, job := range jobs {
		c.inflight.Add(1)
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer c.inflight.Add(-1)
			c.process(context.WithoutCancel(ctx), job)
		}(job)
	}
}

// process runs the handler for one job and records the outcome on the queue.
func (c *Consumer) process(ctx context.Context, job Job) {
	traceID := uuid.New().String()
	ctx = types.WithTraceID(ctx, traceID)

	if c.recordLag != nil {
		c.recordLag(ctx, time.Since(job.RunAt))
	}

	start := time.Now()
	err := c.handler(ctx, job)
	if err != nil {
		c.logger.ErrorContext(ctx, "job handler failed",
			"queue", c.queue,
			"job_id", job.ID.String(),
			"dedup_key", job.DedupKey,
			"attempts", job.Attempts,
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", traceID,
			"error", err,
		)
		if failErr := c.source.Fail(ctx, job.ID, err.Error()); failErr != nil {
			c.logger.ErrorContext(ctx, "failed to mark job failed",
				"queue", c.queue,
				"job_id", job.ID.String(),
				"error", failErr,
			)
		}
		if c.onFailure != nil {
			c.onFailure(job, err)
		}
		return
	}

	if err := c.source.Complete(ctx, job.ID); err != nil {
		c.logger.ErrorContext(ctx, "failed to complete job",
			"queue", c.queue,
			"job_id", job.ID.String(),
			"error", err,
		)
		return
	}

	c.logger.InfoContext(ctx, "job completed",
		"queue", c.queue,
		"job_id", job.ID.String(),
		"dedup_key", job.DedupKey,
		"duration_ms", time.Since(start).Milliseconds(),
		"trace_id", traceID,
	)
}
