package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"sigsync/internal/queue"
	"sigsync/internal/telemetry"
	"sigsync/internal/types"
)

// Discoverer finds incidents that exist upstream but not locally and seeds
// one sync job per new incident. It runs under the discovery queue with
// concurrency 1, so at most one discovery pass is ever in flight.
type Discoverer struct {
	api      API
	store    Store
	jobs     JobQueue
	metrics  telemetry.Metrics
	pageSize int
	logger   *slog.Logger
}

// NewDiscoverer wires a Discoverer. pageSize is how many recent summaries
// each pass inspects.
func NewDiscoverer(api API, store Store, jobs JobQueue, metrics telemetry.Metrics, pageSize int, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &Discoverer{api: api, store: store, jobs: jobs, metrics: metrics, pageSize: pageSize, logger: logger}
}

// Handler adapts the Discoverer to the queue consumer.
func (d *Discoverer) Handler() queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var payload types.DiscoveryJobPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return types.NewAppError(types.ErrCodeQueueBadPayload, "undecodable discovery payload", err)
			}
		}
		if payload.TraceID != "" {
			ctx = types.WithTraceID(ctx, payload.TraceID)
		}
		_, err := d.Run(ctx)
		return err
	}
}

// Run performs one discovery pass and returns how many new incidents it
// enqueued. An upstream fetch failure or existence-query failure aborts the
// whole pass with nothing enqueued; the next scheduled pass retries
// naturally, so there is no backoff beyond the schedule cadence.
func (d *Discoverer) Run(ctx context.Context) (int, error) {
	summaries, err := d.api.LatestIncidents(ctx, d.pageSize)
	if err != nil {
		d.logger.ErrorContext(ctx, "discovery fetch failed", "error", err)
		return 0, err
	}
	if len(summaries) == 0 {
		d.logger.InfoContext(ctx, "discovery pass complete", "discovered", 0)
		return 0, nil
	}

	ids := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}

	existing, err := d.store.ExistingIDs(ctx, ids)
	if err != nil {
		d.logger.ErrorContext(ctx, "discovery existence query failed", "error", err)
		return 0, err
	}
	known := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	traceID := types.GetTraceID(ctx)
	var entries []queue.BulkEntry
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		entries = append(entries, queue.BulkEntry{
			DedupKey: strconv.FormatInt(id, 10),
			Payload:  types.SyncJobPayload{IncidentID: id, TraceID: traceID},
			Delay:    0,
		})
	}
	if len(entries) == 0 {
		d.logger.InfoContext(ctx, "discovery pass complete", "discovered", 0, "inspected", len(ids))
		return 0, nil
	}

	enqueued, err := d.jobs.EnqueueBulk(ctx, types.QueueOpenIncidents, entries)
	if err != nil {
		d.logger.ErrorContext(ctx, "discovery enqueue failed",
			"enqueued", enqueued,
			"new", len(entries),
			"error", err,
		)
		return enqueued, err
	}

	d.metrics.RecordDiscovered(ctx, enqueued)
	d.logger.InfoContext(ctx, "discovery pass complete",
		"discovered", enqueued,
		"inspected", len(ids),
	)
	return enqueued, nil
}
