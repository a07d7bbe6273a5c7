package queue

import (
	"context"
	"log/slog"
	"time"
)

// ScheduleStore abstracts the schedule registry operations the runner needs.
type ScheduleStore interface {
	DueSchedules(ctx context.Context) ([]Schedule, error)
	AdvanceSchedule(ctx context.Context, name, cronPattern string) error
	Enqueue(ctx context.Context, queueName, dedupKey string, payload any, delay time.Duration) error
}

// ScheduleRunner fires due recurring schedules: each fire enqueues one job
// with the schedule's name as dedup key and delay zero, then advances the
// schedule to its next cron fire time.
//
// A fire whose enqueue fails does not advance the schedule, so the next tick
// retries it; the dedup key makes the retry collapse into the same pending
// job if the first enqueue did land.
type ScheduleRunner struct {
	store    ScheduleStore
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduleRunner creates a ScheduleRunner polling at the given interval.
func NewScheduleRunner(store ScheduleStore, interval time.Duration, logger *slog.Logger) *ScheduleRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ScheduleRunner{store: store, interval: interval, logger: logger}
}

// Run ticks until ctx is canceled.
func (r *ScheduleRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.fireDue(ctx)
		}
	}
}

// fireDue enqueues a job for every due schedule and advances each on success.
func (r *ScheduleRunner) fireDue(ctx context.Context) {
	due, err := r.store.DueSchedules(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to query due schedules", "error", err)
		return
	}

	for _, s := range due {
		if err := r.store.Enqueue(ctx, s.Queue, s.Name, s.Payload, 0); err != nil {
			r.logger.ErrorContext(ctx, "failed to enqueue scheduled job",
				"schedule", s.Name,
				"queue", s.Queue,
				"error", err,
			)
			// Not advanced: retried on the next tick.
			continue
		}

		if err := r.store.AdvanceSchedule(ctx, s.Name, s.CronPattern); err != nil {
			r.logger.ErrorContext(ctx, "failed to advance schedule",
				"schedule", s.Name,
				"error", err,
			)
			continue
		}

		r.logger.InfoContext(ctx, "schedule fired",
			"schedule", s.Name,
			"queue", s.Queue,
		)
	}
}
