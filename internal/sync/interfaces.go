package sync

import (
	"context"
	"time"

	"sigsync/internal/queue"
	"sigsync/internal/sigae"
	"sigsync/internal/types"
)

// API is the slice of the SIGAE client the pipeline consumes.
type API interface {
	LatestIncidents(ctx context.Context, limit int) ([]sigae.IncidentSummary, error)
	IncidentDetails(ctx context.Context, id int64) (*sigae.IncidentDetail, error)
	IncidentReport(ctx context.Context, id int64) (*sigae.IncidentReport, error)
	StationsAttending(ctx context.Context, id int64) ([]sigae.StationAttending, error)
	VehiclesDispatched(ctx context.Context, id int64) ([]sigae.VehicleDispatched, error)
}

// Store is the slice of the incident repository the pipeline consumes.
type Store interface {
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
	UpsertIncident(ctx context.Context, inc *types.Incident) error
	UpsertDispatchedVehicles(ctx context.Context, vehicles []types.DispatchedVehicle) error
	UpsertDispatchedStations(ctx context.Context, stations []types.DispatchedStation) error
	FindIncident(ctx context.Context, id int64) (*types.Incident, error)
	FindVehiclesInScene(ctx context.Context, incidentID int64) ([]types.DispatchedVehicle, error)
	CloseIncident(ctx context.Context, id int64) error
}

// JobQueue is the slice of the queue the pipeline uses to schedule work.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName, dedupKey string, payload any, delay time.Duration) error
	EnqueueBulk(ctx context.Context, queueName string, entries []queue.BulkEntry) (int, error)
}
