package sync

import (
	"context"
	"io"
	"log/slog"
	stdsync "sync"
	"time"

	"sigsync/internal/queue"
	"sigsync/internal/sigae"
	"sigsync/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI serves canned SIGAE payloads keyed by incident id.
type fakeAPI struct {
	summaries    []sigae.IncidentSummary
	summariesErr error

	details  map[int64]*sigae.IncidentDetail
	reports  map[int64]*sigae.IncidentReport
	stations map[int64][]sigae.StationAttending
	vehicles map[int64][]sigae.VehicleDispatched

	detailErr   error
	reportErr   error
	stationsErr error
	vehiclesErr error
}

func (f *fakeAPI) LatestIncidents(_ context.Context, _ int) ([]sigae.IncidentSummary, error) {
	return f.summaries, f.summariesErr
}

func (f *fakeAPI) IncidentDetails(_ context.Context, id int64) (*sigae.IncidentDetail, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.details[id], nil
}

func (f *fakeAPI) IncidentReport(_ context.Context, id int64) (*sigae.IncidentReport, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.reports[id], nil
}

func (f *fakeAPI) StationsAttending(_ context.Context, id int64) ([]sigae.StationAttending, error) {
	if f.stationsErr != nil {
		return nil, f.stationsErr
	}
	return f.stations[id], nil
}

func (f *fakeAPI) VehiclesDispatched(_ context.Context, id int64) ([]sigae.VehicleDispatched, error) {
	if f.vehiclesErr != nil {
		return nil, f.vehiclesErr
	}
	return f.vehicles[id], nil
}

// fakeStore is an in-memory Store that mirrors the repository's semantics:
// full-replace upserts except that a closed incident stays closed.
type fakeStore struct {
	mu        stdsync.Mutex
	incidents map[int64]types.Incident
	vehicles  map[int64][]types.DispatchedVehicle
	stations  map[int64][]types.DispatchedStation
	closed    []int64

	existingErr error
	upsertErr   error
	findErr     error
	closeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		incidents: make(map[int64]types.Incident),
		vehicles:  make(map[int64][]types.DispatchedVehicle),
		stations:  make(map[int64][]types.DispatchedStation),
	}
}

func (f *fakeStore) ExistingIDs(_ context.Context, ids []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	var out []int64
	for _, id := range ids {
		if _, ok := f.incidents[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertIncident(_ context.Context, inc *types.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	row := *inc
	if prev, ok := f.incidents[inc.ID]; ok {
		// Monotonic closing, as the real upsert enforces in SQL.
		row.IsOpen = prev.IsOpen && inc.IsOpen
		row.IncidentTimestamp = prev.IncidentTimestamp
	}
	f.incidents[inc.ID] = row
	return nil
}

func (f *fakeStore) UpsertDispatchedVehicles(_ context.Context, vehicles []types.DispatchedVehicle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, v := range vehicles {
		rows := f.vehicles[v.IncidentID]
		replaced := false
		for i, prev := range rows {
			if prev.ID == v.ID {
				rows[i] = v
				replaced = true
			}
		}
		if !replaced {
			rows = append(rows, v)
		}
		f.vehicles[v.IncidentID] = rows
	}
	return nil
}

func (f *fakeStore) UpsertDispatchedStations(_ context.Context, stations []types.DispatchedStation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, s := range stations {
		f.stations[s.IncidentID] = append(f.stations[s.IncidentID], s)
	}
	return nil
}

func (f *fakeStore) FindIncident(_ context.Context, id int64) (*types.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	inc, ok := f.incidents[id]
	if !ok {
		return nil, nil
	}
	return &inc, nil
}

func (f *fakeStore) FindVehiclesInScene(_ context.Context, incidentID int64) ([]types.DispatchedVehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []types.DispatchedVehicle
	for _, v := range f.vehicles[incidentID] {
		if v.InScene() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) CloseIncident(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	inc := f.incidents[id]
	inc.IsOpen = false
	f.incidents[id] = inc
	f.closed = append(f.closed, id)
	return nil
}

type enqueueCall struct {
	queue    string
	dedupKey string
	payload  any
	delay    time.Duration
}

// fakeJobs records enqueue calls.
type fakeJobs struct {
	mu       stdsync.Mutex
	calls    []enqueueCall
	bulkRuns [][]queue.BulkEntry

	enqueueErr error
	bulkErr    error
}

func (f *fakeJobs) Enqueue(_ context.Context, queueName, dedupKey string, payload any, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.calls = append(f.calls, enqueueCall{queue: queueName, dedupKey: dedupKey, payload: payload, delay: delay})
	return nil
}

func (f *fakeJobs) EnqueueBulk(_ context.Context, queueName string, entries []queue.BulkEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return 0, f.bulkErr
	}
	f.bulkRuns = append(f.bulkRuns, entries)
	for _, e := range entries {
		f.calls = append(f.calls, enqueueCall{queue: queueName, dedupKey: e.DedupKey, payload: e.Payload, delay: e.Delay})
	}
	return len(entries), nil
}
