package types

// Queue and schedule names shared between the queue layer, the workers, and
// the operator tooling. The discovery schedule and the open-incidents work
// queue are the only two queues this service owns.
const (
	QueueDiscovery     = "incident-discovery"
	QueueOpenIncidents = "open-incidents"

	ScheduleDiscovery = "incident-discovery"
)

// SyncJobPayload is the body of one "sync incident" job on the open-incidents
// queue. The job's dedup key is the decimal incident id, so the payload is
// intentionally minimal.
type SyncJobPayload struct {
	IncidentID int64 `json:"incident_id"`
	// TraceID correlates the job with the discovery run (or operator action)
	// that produced it.
	TraceID string `json:"trace_id,omitempty"`
}

// DiscoveryJobPayload is the body of the recurring discovery job. It carries
// no parameters today; the page size comes from configuration.
type DiscoveryJobPayload struct {
	TraceID string `json:"trace_id,omitempty"`
}
