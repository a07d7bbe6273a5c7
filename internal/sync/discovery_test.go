package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"sigsync/internal/queue"
	"sigsync/internal/sigae"
	"sigsync/internal/types"
)

func TestDiscoverer_EnqueuesOnlyNewIncidents(t *testing.T) {
	api := &fakeAPI{summaries: []sigae.IncidentSummary{{ID: 502}, {ID: 501}, {ID: 500}}}
	store := newFakeStore()
	store.incidents[500] = types.Incident{ID: 500, IsOpen: true}
	jobs := &fakeJobs{}

	d := NewDiscoverer(api, store, jobs, nil, 50, discardLogger())
	discovered, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if discovered != 2 {
		t.Fatalf("discovered = %d, want 2", discovered)
	}

	if len(jobs.calls) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(jobs.calls))
	}
	for _, call := range jobs.calls {
		if call.queue != types.QueueOpenIncidents {
			t.Errorf("queue = %q", call.queue)
		}
		if call.delay != 0 {
			t.Errorf("new incidents must be synced immediately, got delay %v", call.delay)
		}
	}
	if jobs.calls[0].dedupKey != "502" || jobs.calls[1].dedupKey != "501" {
		t.Errorf("dedup keys = %q, %q; want decimal incident ids", jobs.calls[0].dedupKey, jobs.calls[1].dedupKey)
	}
	payload, ok := jobs.calls[0].payload.(types.SyncJobPayload)
	if !ok || payload.IncidentID != 502 {
		t.Errorf("payload = %+v", jobs.calls[0].payload)
	}
}

// A second pass over an unchanged upstream listing enqueues nothing once the
// first pass's incidents are persisted.
func TestDiscoverer_SecondPassIsIdempotent(t *testing.T) {
	api := &fakeAPI{summaries: []sigae.IncidentSummary{{ID: 500}, {ID: 501}}}
	store := newFakeStore()
	jobs := &fakeJobs{}
	d := NewDiscoverer(api, store, jobs, nil, 50, discardLogger())

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(jobs.calls) != 2 {
		t.Fatalf("first pass enqueued %d, want 2", len(jobs.calls))
	}

	// The sync workers persist the incidents between passes.
	store.incidents[500] = types.Incident{ID: 500, IsOpen: true}
	store.incidents[501] = types.Incident{ID: 501, IsOpen: true}

	discovered, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if discovered != 0 || len(jobs.calls) != 2 {
		t.Errorf("second pass discovered=%d total enqueues=%d, want 0/2", discovered, len(jobs.calls))
	}
}

func TestDiscoverer_EmptyPageIsSuccess(t *testing.T) {
	d := NewDiscoverer(&fakeAPI{}, newFakeStore(), &fakeJobs{}, nil, 50, discardLogger())
	discovered, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if discovered != 0 {
		t.Errorf("discovered = %d, want 0", discovered)
	}
}

func TestDiscoverer_AllKnownEnqueuesNothing(t *testing.T) {
	api := &fakeAPI{summaries: []sigae.IncidentSummary{{ID: 500}, {ID: 501}}}
	store := newFakeStore()
	store.incidents[500] = types.Incident{ID: 500}
	store.incidents[501] = types.Incident{ID: 501}
	jobs := &fakeJobs{}

	discovered, err := NewDiscoverer(api, store, jobs, nil, 50, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if discovered != 0 || len(jobs.calls) != 0 {
		t.Errorf("discovered=%d enqueues=%d, want 0/0", discovered, len(jobs.calls))
	}
}

// A failed upstream fetch aborts the whole pass: nothing may be enqueued,
// and the next scheduled pass is the retry.
func TestDiscoverer_FetchFailureEnqueuesNothing(t *testing.T) {
	api := &fakeAPI{summariesErr: errors.New("sigae down")}
	jobs := &fakeJobs{}

	_, err := NewDiscoverer(api, newFakeStore(), jobs, nil, 50, discardLogger()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(jobs.calls) != 0 {
		t.Errorf("partial enqueue after fetch failure: %d jobs", len(jobs.calls))
	}
}

func TestDiscoverer_ExistenceQueryFailureEnqueuesNothing(t *testing.T) {
	api := &fakeAPI{summaries: []sigae.IncidentSummary{{ID: 500}}}
	store := newFakeStore()
	store.existingErr = errors.New("db down")
	jobs := &fakeJobs{}

	_, err := NewDiscoverer(api, store, jobs, nil, 50, discardLogger()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(jobs.calls) != 0 {
		t.Errorf("partial enqueue after query failure: %d jobs", len(jobs.calls))
	}
}

func TestDiscovererHandler_PropagatesTraceID(t *testing.T) {
	var seen string
	api := &fakeAPI{summaries: []sigae.IncidentSummary{{ID: 500}}}
	jobs := &fakeJobs{}
	d := NewDiscoverer(api, newFakeStore(), jobs, nil, 50, discardLogger())

	job := queue.Job{
		ID:      uuid.New(),
		Queue:   types.QueueDiscovery,
		Payload: []byte(`{"trace_id":"trace-9"}`),
		RunAt:   time.Now().UTC(),
	}
	if err := d.Handler()(context.Background(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}
	payload := jobs.calls[0].payload.(types.SyncJobPayload)
	seen = payload.TraceID
	if seen != "trace-9" {
		t.Errorf("trace id = %q, want propagated from discovery job", seen)
	}
}
