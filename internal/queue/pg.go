package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"sigsync/internal/db"
	"sigsync/internal/types"
)

// PGQueue is the PostgreSQL-backed implementation of the job queue and the
// schedule registry. It accepts a db.DBTX so the same code works against a
// pool or inside a transaction.
type PGQueue struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPGQueue creates a PGQueue backed by the given database connection.
func NewPGQueue(dbtx db.DBTX, logger *slog.Logger) *PGQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGQueue{db: dbtx, logger: logger}
}

// Enqueue creates a delayed job, or replaces the delay and payload of the
// pending job with the same dedup key (replace semantics; see the package
// doc). The payload is marshaled to JSON.
func (q *PGQueue) Enqueue(ctx context.Context, queueName, dedupKey string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueEnqueueFailed, "failed to marshal job payload", err).
			WithDetails(map[string]any{"queue": queueName, "dedup_key": dedupKey})
	}

	runAt := time.Now().UTC().Add(delay)

	_, err = q.db.Exec(ctx,
		`INSERT INTO sync_jobs (id, queue, dedup_key, payload, status, run_at)
		 VALUES ($1, $2, $3, $4, 'pending', $5)
		 ON CONFLICT (queue, dedup_key) WHERE status = 'pending'
		 DO UPDATE SET run_at = EXCLUDED.run_at,
		               payload = EXCLUDED.payload,
		               updated_at = now()`,
		uuid.New(), queueName, dedupKey, body, runAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueEnqueueFailed, "failed to enqueue job", err).
			WithDetails(map[string]any{"queue": queueName, "dedup_key": dedupKey})
	}

	return nil
}

// EnqueueBulk applies Enqueue semantics per entry, best-effort: a failing
// entry is reported but does not drop the others. It returns the number of
// entries enqueued and the joined per-entry errors, if any.
func (q *PGQueue) EnqueueBulk(ctx context.Context, queueName string, entries []BulkEntry) (int, error) {
	var (
		enqueued int
		errs     []error
	)
	for _, e := range entries {
		if err := q.Enqueue(ctx, queueName, e.DedupKey, e.Payload, e.Delay); err != nil {
			q.logger.ErrorContext(ctx, "bulk enqueue entry failed",
				"queue", queueName,
				"dedup_key", e.DedupKey,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		enqueued++
	}
	return enqueued, errors.Join(errs...)
}

// Claim atomically marks up to limit eligible jobs as running and returns
// them. A job is eligible when it is pending, its run_at has passed, and no
// job with the same dedup key is currently running. FOR UPDATE SKIP LOCKED
// keeps concurrent claimers from double-dispatching a job.
func (q *PGQueue) Claim(ctx context.Context, queueName string, limit int) ([]Job, error) {
	rows, err := q.db.Query(ctx,
		`WITH eligible AS (
		   SELECT j.id
		     FROM sync_jobs j
		    WHERE j.queue = $1
		      AND j.status = 'pending'
		      AND j.run_at <= now()
		      AND NOT EXISTS (
		            SELECT 1 FROM sync_jobs r
		             WHERE r.queue = j.queue
		               AND r.dedup_key = j.dedup_key
		               AND r.status = 'running')
		    ORDER BY j.run_at
		    LIMIT $2
		      FOR UPDATE SKIP LOCKED
		 )
		 UPDATE sync_jobs s
		    SET status = 'running', claimed_at = now(),
		        attempts = s.attempts + 1, updated_at = now()
		   FROM eligible e
		  WHERE s.id = e.id
		 RETURNING s.id, s.queue, s.dedup_key, s.payload, s.run_at, s.attempts`,
		queueName, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to claim jobs", err).
			WithDetails(map[string]any{"queue": queueName})
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Queue, &j.DedupKey, &j.Payload, &j.RunAt, &j.Attempts); err != nil {
			return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to scan claimed job", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to read claimed jobs", err)
	}

	return jobs, nil
}

// Complete removes a consumed job. The job row is the only record of the
// chain; deleting it ends the chain unless the handler enqueued a successor.
func (q *PGQueue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sync_jobs WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to complete job", err).
			WithDetails(map[string]any{"job_id": id.String()})
	}
	return nil
}

// Fail marks a job failed and keeps the row for inspection. Failed rows do
// not participate in dedup, so a later enqueue for the same key starts a
// fresh chain.
func (q *PGQueue) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE sync_jobs
		    SET status = 'failed', last_error = $2, updated_at = now()
		  WHERE id = $1 AND status = 'running'`,
		id, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to mark job failed", err).
			WithDetails(map[string]any{"job_id": id.String()})
	}
	return nil
}

// ReclaimStale returns running jobs whose claim is older than ttl to pending
// (crash recovery). A stale job whose key already has a pending successor is
// deleted instead, so the pending partial unique index is never violated.
// Returns the number of jobs returned to pending.
func (q *PGQueue) ReclaimStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	_, err := q.db.Exec(ctx,
		`DELETE FROM sync_jobs s
		  WHERE s.status = 'running'
		    AND s.claimed_at < $1
		    AND EXISTS (
		          SELECT 1 FROM sync_jobs p
		           WHERE p.queue = s.queue
		             AND p.dedup_key = s.dedup_key
		             AND p.status = 'pending')`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to drop superseded stale jobs", err)
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE sync_jobs s
		    SET status = 'pending', claimed_at = NULL, updated_at = now()
		  WHERE s.status = 'running'
		    AND s.claimed_at < $1
		    AND NOT EXISTS (
		          SELECT 1 FROM sync_jobs p
		           WHERE p.queue = s.queue
		             AND p.dedup_key = s.dedup_key
		             AND p.status = 'pending')`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to reclaim stale jobs", err)
	}

	return int(tag.RowsAffected()), nil
}

// Depth returns the number of jobs per status for a queue. Used by the ops
// surface and health probes.
func (q *PGQueue) Depth(ctx context.Context, queueName string) (map[JobStatus]int64, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status, count(*) FROM sync_jobs WHERE queue = $1 GROUP BY status`,
		queueName,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to query queue depth", err).
			WithDetails(map[string]any{"queue": queueName})
	}
	defer rows.Close()

	depth := make(map[JobStatus]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to scan queue depth", err)
		}
		depth[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueConsumeFailed, "failed to read queue depth", err)
	}

	return depth, nil
}

// RegisterRecurring upserts a named recurring schedule. Calling it again with
// the same name updates the pattern rather than duplicating the schedule; if
// the pattern is unchanged the existing next_run_at is kept, so a restart
// neither delays nor double-fires the schedule.
func (q *PGQueue) RegisterRecurring(ctx context.Context, name, queueName, cronPattern string, payload any) error {
	sched, err := cron.ParseStandard(cronPattern)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueScheduleFailed, "invalid cron pattern", err).
			WithDetails(map[string]any{"schedule": name, "pattern": cronPattern})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to marshal schedule payload", err).
			WithDetails(map[string]any{"schedule": name})
	}

	next := sched.Next(time.Now().UTC())

	_, err = q.db.Exec(ctx,
		`INSERT INTO sync_schedules (name, queue, cron_pattern, payload, next_run_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE
		   SET queue        = EXCLUDED.queue,
		       cron_pattern = EXCLUDED.cron_pattern,
		       payload      = EXCLUDED.payload,
		       next_run_at  = CASE
		                        WHEN sync_schedules.cron_pattern <> EXCLUDED.cron_pattern
		                        THEN EXCLUDED.next_run_at
		                        ELSE sync_schedules.next_run_at
		                      END,
		       updated_at   = now()`,
		name, queueName, cronPattern, body, next,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to register schedule", err).
			WithDetails(map[string]any{"schedule": name})
	}

	return nil
}

// DueSchedules returns the schedules whose next_run_at has passed.
func (q *PGQueue) DueSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := q.db.Query(ctx,
		`SELECT name, queue, cron_pattern, payload, next_run_at
		   FROM sync_schedules
		  WHERE next_run_at <= now()`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to query due schedules", err)
	}
	defer rows.Close()

	var due []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.Name, &s.Queue, &s.CronPattern, &s.Payload, &s.NextRunAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to scan schedule", err)
		}
		due = append(due, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to read due schedules", err)
	}

	return due, nil
}

// AdvanceSchedule moves a schedule's next_run_at to the next fire time after
// now, computed from its cron pattern.
func (q *PGQueue) AdvanceSchedule(ctx context.Context, name, cronPattern string) error {
	sched, err := cron.ParseStandard(cronPattern)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueScheduleFailed, "invalid cron pattern", err).
			WithDetails(map[string]any{"schedule": name, "pattern": cronPattern})
	}

	next := sched.Next(time.Now().UTC())

	_, err = q.db.Exec(ctx,
		`UPDATE sync_schedules
		    SET next_run_at = $2, updated_at = now()
		  WHERE name = $1`,
		name, next,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeQueueScheduleFailed, "failed to advance schedule", err).
			WithDetails(map[string]any{"schedule": name})
	}

	return nil
}
