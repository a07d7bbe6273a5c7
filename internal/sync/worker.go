package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"sigsync/internal/queue"
	"sigsync/internal/sigae"
	"sigsync/internal/telemetry"
	"sigsync/internal/types"
)

// Syncer processes one "sync incident" job: fetch the incident's full detail
// set, persist it, and either close the incident or re-enqueue the job.
//
// Requeue IS the retry policy. A transient failure and a
// still-open incident take the same path: enqueue the same dedup key again
// with one fixed delay. There is no backoff and no attempt cap; an incident
// that never satisfies the closing condition is re-fetched forever, bounded
// only by the fixed cadence. Only an undecodable payload ends a chain with a
// failed job, since re-running it can never succeed.
type Syncer struct {
	api          API
	store        Store
	jobs         JobQueue
	metrics      telemetry.Metrics
	requeueDelay time.Duration
	closingAge   time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// SyncerConfig wires a Syncer.
type SyncerConfig struct {
	API          API
	Store        Store
	Jobs         JobQueue
	Metrics      telemetry.Metrics
	RequeueDelay time.Duration
	ClosingAge   time.Duration
	Logger       *slog.Logger
}

// NewSyncer builds a Syncer from config.
func NewSyncer(cfg SyncerConfig) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &Syncer{
		api:          cfg.API,
		store:        cfg.Store,
		jobs:         cfg.Jobs,
		metrics:      metrics,
		requeueDelay: cfg.RequeueDelay,
		closingAge:   cfg.ClosingAge,
		logger:       logger,
		now:          time.Now,
	}
}

// Handler adapts the Syncer to the queue consumer.
func (s *Syncer) Handler() queue.Handler {
	return s.Handle
}

// Handle runs one sync job. A nil return completes (deletes) the job; the
// follow-up job, when one is needed, has already been enqueued under the
// same dedup key by then. A non-nil return parks the job as failed: that
// happens for payloads that can never succeed, and for a requeue that
// itself fails (see requeue).
func (s *Syncer) Handle(ctx context.Context, job queue.Job) error {
	var payload types.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return types.NewAppError(types.ErrCodeQueueBadPayload, "undecodable sync payload", err)
	}
	if payload.IncidentID == 0 {
		return types.NewAppError(types.ErrCodeQueueBadPayload, "sync payload missing incident id", nil)
	}
	if payload.TraceID != "" {
		ctx = types.WithTraceID(ctx, payload.TraceID)
	}

	started := s.now()
	closed, err := s.syncOnce(ctx, payload.IncidentID)
	s.metrics.RecordSyncDuration(ctx, s.now().Sub(started))

	if err != nil {
		s.logger.ErrorContext(ctx, "incident sync failed, requeueing",
			"incident_id", payload.IncidentID,
			"delay", s.requeueDelay,
			"error", err,
		)
		s.metrics.RecordSyncOutcome(ctx, telemetry.OutcomeFailed)
		return s.requeue(ctx, payload)
	}

	if closed {
		s.logger.InfoContext(ctx, "incident closed", "incident_id", payload.IncidentID)
		s.metrics.RecordSyncOutcome(ctx, telemetry.OutcomeClosed)
		return nil
	}

	s.metrics.RecordSyncOutcome(ctx, telemetry.OutcomeRequeued)
	return s.requeue(ctx, payload)
}

// syncOnce fetches, persists, and evaluates one incident. It returns whether
// the incident was closed this cycle.
func (s *Syncer) syncOnce(ctx context.Context, id int64) (bool, error) {
	var (
		detail   *sigae.IncidentDetail
		report   *sigae.IncidentReport
		stations []sigae.StationAttending
		vehicles []sigae.VehicleDispatched
	)

	// The four detail resources are independent, so fetch them in parallel.
	// All four must succeed; one failure fails the whole cycle and nothing
	// is written.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detail, err = s.api.IncidentDetails(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		report, err = s.api.IncidentReport(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		stations, err = s.api.StationsAttending(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		vehicles, err = s.api.VehiclesDispatched(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	incident, err := sigae.BuildIncident(detail, report)
	if err != nil {
		return false, err
	}
	vehicleRows, err := sigae.BuildVehicles(id, vehicles)
	if err != nil {
		return false, err
	}
	stationRows, err := sigae.BuildStations(id, stations)
	if err != nil {
		return false, err
	}

	if err := s.store.UpsertIncident(ctx, incident); err != nil {
		return false, err
	}
	if err := s.store.UpsertDispatchedVehicles(ctx, vehicleRows); err != nil {
		return false, err
	}
	if err := s.store.UpsertDispatchedStations(ctx, stationRows); err != nil {
		return false, err
	}

	// Closing is evaluated against the persisted row, not the in-memory
	// value, so it sees exactly what the store holds after the upsert.
	persisted, err := s.store.FindIncident(ctx, id)
	if err != nil {
		return false, err
	}
	if persisted == nil {
		return false, types.NewAppError(types.ErrCodeDBNotFound, "incident missing after upsert", nil).
			WithDetails(map[string]any{"incident_id": id})
	}
	if !persisted.IsOpen {
		// Already closed by an earlier cycle; nothing left to track.
		return true, nil
	}

	inScene, err := s.store.FindVehiclesInScene(ctx, id)
	if err != nil {
		return false, err
	}

	if !CloseEligible(persisted.IncidentTimestamp, len(inScene), s.closingAge, s.now()) {
		return false, nil
	}
	if err := s.store.CloseIncident(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// requeue schedules the next cycle for the same incident under the same
// dedup key.
//
// If the enqueue itself fails, the returned error parks the current job as
// failed and the incident's chain ends: discovery skips ids already in the
// incidents table, so nothing revives the chain automatically. Recovery is
// the operator enqueue tool (cmd/tools/enqueue) against the failed row's
// incident id.
func (s *Syncer) requeue(ctx context.Context, payload types.SyncJobPayload) error {
	dedupKey := strconv.FormatInt(payload.IncidentID, 10)
	if err := s.jobs.Enqueue(ctx, types.QueueOpenIncidents, dedupKey, payload, s.requeueDelay); err != nil {
		s.logger.ErrorContext(ctx, "failed to requeue incident sync",
			"incident_id", payload.IncidentID,
			"error", err,
		)
		return err
	}
	return nil
}
