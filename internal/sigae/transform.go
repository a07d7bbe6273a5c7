package sigae

import (
	"fmt"
	"time"

	"sigsync/internal/types"
)

// upstreamTimeLayouts are the formats SIGAE uses for timestamps, tried in
// order. Values are wall-clock local time with no zone; the service runs
// pinned to UTC so they parse as UTC.
var upstreamTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseUpstreamTime parses a SIGAE timestamp string. Empty strings and year-1
// dates decode to Go's zero time, which the domain treats as the "not yet
// occurred" sentinel. Any other unparsable value is an error: a silently
// zeroed departure time would make a vehicle look in scene forever.
func ParseUpstreamTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range upstreamTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if types.IsSentinelTime(t) {
				return time.Time{}, nil
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// BuildIncident merges the detail and report payloads into one Incident row.
// New rows always start open; the persistence layer keeps already-closed rows
// closed on upsert.
func BuildIncident(detail *IncidentDetail, report *IncidentReport) (*types.Incident, error) {
	ts, err := ParseUpstreamTime(detail.Timestamp)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAPIDecodeFailed,
			"invalid incident timestamp", err).
			WithDetails(map[string]any{"incident_id": detail.ID})
	}

	lat, lng := report.Latitude, report.Longitude
	if lat == "" {
		lat = "0"
	}
	if lng == "" {
		lng = "0"
	}

	return &types.Incident{
		ID:                detail.ID,
		IncidentTimestamp: ts,
		IncidentType:      detail.IncidentType,
		Address:           detail.Address,
		District:          detail.District,
		Latitude:          lat,
		Longitude:         lng,
		IsOpen:            true,
	}, nil
}

// BuildVehicles converts the dispatched-vehicle payloads for one incident.
func BuildVehicles(incidentID int64, raws []VehicleDispatched) ([]types.DispatchedVehicle, error) {
	vehicles := make([]types.DispatchedVehicle, 0, len(raws))
	for _, raw := range raws {
		dispatched, err := ParseUpstreamTime(raw.DispatchedTime)
		if err != nil {
			return nil, vehicleTimeError(incidentID, raw.ID, err)
		}
		arrival, err := ParseUpstreamTime(raw.ArrivalTime)
		if err != nil {
			return nil, vehicleTimeError(incidentID, raw.ID, err)
		}
		departure, err := ParseUpstreamTime(raw.DepartureTime)
		if err != nil {
			return nil, vehicleTimeError(incidentID, raw.ID, err)
		}
		vehicles = append(vehicles, types.DispatchedVehicle{
			ID:             raw.ID,
			IncidentID:     incidentID,
			VehicleCode:    raw.VehicleCode,
			StationCode:    raw.StationCode,
			DispatchedTime: dispatched,
			ArrivalTime:    arrival,
			DepartureTime:  departure,
		})
	}
	return vehicles, nil
}

// BuildStations converts the attending-station payloads for one incident.
func BuildStations(incidentID int64, raws []StationAttending) ([]types.DispatchedStation, error) {
	stations := make([]types.DispatchedStation, 0, len(raws))
	for _, raw := range raws {
		dispatched, err := ParseUpstreamTime(raw.DispatchedTime)
		if err != nil {
			return nil, stationTimeError(incidentID, raw.ID, err)
		}
		arrival, err := ParseUpstreamTime(raw.ArrivalTime)
		if err != nil {
			return nil, stationTimeError(incidentID, raw.ID, err)
		}
		departure, err := ParseUpstreamTime(raw.DepartureTime)
		if err != nil {
			return nil, stationTimeError(incidentID, raw.ID, err)
		}
		stations = append(stations, types.DispatchedStation{
			ID:             raw.ID,
			IncidentID:     incidentID,
			StationCode:    raw.StationCode,
			StationName:    raw.StationName,
			DispatchedTime: dispatched,
			ArrivalTime:    arrival,
			DepartureTime:  departure,
		})
	}
	return stations, nil
}

func vehicleTimeError(incidentID, dispatchID int64, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeAPIDecodeFailed, "invalid vehicle dispatch timestamp", err).
		WithDetails(map[string]any{"incident_id": incidentID, "dispatch_id": dispatchID})
}

func stationTimeError(incidentID, dispatchID int64, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeAPIDecodeFailed, "invalid station dispatch timestamp", err).
		WithDetails(map[string]any{"incident_id": incidentID, "dispatch_id": dispatchID})
}
