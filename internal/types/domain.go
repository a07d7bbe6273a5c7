// Package types defines the shared domain model and error taxonomy for the
// SIGAE incident synchronization service. The structs here mirror the rows
// owned by the persistence layer; SIGAE wire payloads live in internal/sigae
// and are transformed into these shapes before any write.
package types

import (
	"time"
)

// Incident is one emergency-response event tracked by its upstream id.
// The id is assigned by SIGAE and is never generated locally.
//
// IsOpen is the only lifecycle flag: it starts true on first sync and
// transitions to false exactly once. Nothing in this codebase ever writes it
// back to true after closing.
type Incident struct {
	ID                int64     `json:"id"`
	IncidentTimestamp time.Time `json:"incident_timestamp"`
	IncidentType      string    `json:"incident_type"`
	Address           string    `json:"address"`
	District          string    `json:"district"`
	// Latitude and Longitude are kept as the upstream strings. The value "0"
	// means "not yet geocoded"; SIGAE fills coordinates in later and the
	// sync loop keeps refreshing the row until then.
	Latitude   string    `json:"latitude"`
	Longitude  string    `json:"longitude"`
	IsOpen     bool      `json:"is_open"`
	ModifiedAt time.Time `json:"modified_at"`
}

// CoordinatesPending reports whether the incident still carries the "0"/"0"
// geocoding sentinel. Note that pending coordinates do NOT keep an incident
// open on their own; only age and vehicles in scene drive the closing
// decision.
func (i *Incident) CoordinatesPending() bool {
	return i.Latitude == "0" && i.Longitude == "0"
}

// DispatchedVehicle is one vehicle assigned to an incident, keyed by the
// upstream dispatch id. DepartureTime is the sentinel (year 1) while the
// vehicle is still in scene.
type DispatchedVehicle struct {
	ID             int64     `json:"id"`
	IncidentID     int64     `json:"incident_id"`
	VehicleCode    string    `json:"vehicle_code"`
	StationCode    string    `json:"station_code"`
	DispatchedTime time.Time `json:"dispatched_time"`
	ArrivalTime    time.Time `json:"arrival_time"`
	DepartureTime  time.Time `json:"departure_time"`
}

// InScene reports whether the vehicle has been dispatched but has not yet
// departed. A vehicle whose arrival is also still sentinel counts as in
// scene: dispatched, not yet returned.
func (v *DispatchedVehicle) InScene() bool {
	return IsSentinelTime(v.DepartureTime)
}

// DispatchedStation is one station attending an incident, keyed by the
// upstream dispatch id.
type DispatchedStation struct {
	ID             int64     `json:"id"`
	IncidentID     int64     `json:"incident_id"`
	StationCode    string    `json:"station_code"`
	StationName    string    `json:"station_name"`
	DispatchedTime time.Time `json:"dispatched_time"`
	ArrivalTime    time.Time `json:"arrival_time"`
	DepartureTime  time.Time `json:"departure_time"`
}

// IsSentinelTime reports whether t carries SIGAE's "not yet occurred" marker.
// The upstream system encodes pending timestamps as year-1 dates, which is
// also Go's zero time, so both forms are treated as sentinel.
func IsSentinelTime(t time.Time) bool {
	return t.Year() <= 1
}
