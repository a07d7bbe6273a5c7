// Package queue implements the durable delayed/deduplicated job queue backing
// the incident sync pipeline. Jobs live in the sync_jobs PostgreSQL table;
// no in-memory state survives a restart, the table is the source of truth.
//
// Dedup semantics (documented and tested):
//
//   - At most one PENDING job per (queue, dedup_key), enforced by a partial
//     unique index. A second enqueue for the same key REPLACES the pending
//     job's delay and payload.
//   - While a job for a key is RUNNING, an enqueue for the same key creates
//     the pending successor, but the claim query refuses to dispatch a job
//     whose key has a running sibling. Two simultaneously-runnable jobs for
//     one dedup key are therefore impossible.
//
// Queue-level failure (a handler returning an error) marks the job 'failed'
// and keeps the row for inspection; this is distinct from the domain-level
// requeue the sync worker performs itself.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusFailed  JobStatus = "failed"
)

// Job is one unit of work claimed from a queue.
type Job struct {
	ID       uuid.UUID
	Queue    string
	DedupKey string
	Payload  []byte
	RunAt    time.Time
	Attempts int
}

// BulkEntry is one entry of an EnqueueBulk call.
type BulkEntry struct {
	DedupKey string
	Payload  any
	Delay    time.Duration
}

// Schedule is a named recurring trigger that enqueues a job on a cron
// cadence. The schedule's name doubles as the enqueued job's dedup key, so
// overlapping fires collapse into one pending job.
type Schedule struct {
	Name        string
	Queue       string
	CronPattern string
	// Payload is stored as raw JSON so re-enqueueing it does not re-encode.
	Payload   json.RawMessage
	NextRunAt time.Time
}
