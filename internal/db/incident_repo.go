package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sigsync/internal/types"
)

// sentinelCutoff bounds SIGAE's "not yet occurred" timestamps. Any timestamp
// strictly before this value (year 1 dates, including Go's zero time) is the
// sentinel. Passed as a query parameter so the sentinel convention lives in
// exactly one place on the Go side.
var sentinelCutoff = time.Date(2, 1, 1, 0, 0, 0, 0, time.UTC)

// IncidentRepository is the persistence gateway for incidents and their
// dispatch children. Upstream is the single source of truth for a given id,
// so upserts replace every data column rather than merging. Two exceptions
// protect domain invariants:
//
//   - incident_timestamp is immutable after the first write;
//   - is_open never transitions back to true once closed (the conflict clause
//     ANDs the stored flag with the incoming one).
type IncidentRepository struct {
	db DBTX
}

// NewIncidentRepository creates a new IncidentRepository backed by the given
// database connection (pool or transaction).
func NewIncidentRepository(db DBTX) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// UpsertIncident inserts or fully replaces the incident row keyed by its
// upstream id. modified_at is bumped on every call, including no-op syncs.
func (r *IncidentRepository) UpsertIncident(ctx context.Context, inc *types.Incident) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO incidents
		   (id, incident_timestamp, incident_type, address, district,
		    latitude, longitude, is_open, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (id) DO UPDATE
		   SET incident_type = EXCLUDED.incident_type,
		       address       = EXCLUDED.address,
		       district      = EXCLUDED.district,
		       latitude      = EXCLUDED.latitude,
		       longitude     = EXCLUDED.longitude,
		       is_open       = incidents.is_open AND EXCLUDED.is_open,
		       modified_at   = now()`,
		inc.ID,
		inc.IncidentTimestamp,
		inc.IncidentType,
		inc.Address,
		inc.District,
		inc.Latitude,
		inc.Longitude,
		inc.IsOpen,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeDBUpsertFailed, "failed to upsert incident", err).
			WithDetails(map[string]any{"incident_id": inc.ID})
	}
	return nil
}

// UpsertDispatchedVehicles inserts or fully replaces each dispatched-vehicle
// row keyed by its upstream dispatch id.
func (r *IncidentRepository) UpsertDispatchedVehicles(ctx context.Context, vehicles []types.DispatchedVehicle) error {
	for _, v := range vehicles {
		_, err := r.db.Exec(ctx,
			`INSERT INTO dispatched_vehicles
			   (id, incident_id, vehicle_code, station_code,
			    dispatched_time, arrival_time, departure_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			   SET incident_id     = EXCLUDED.incident_id,
			       vehicle_code    = EXCLUDED.vehicle_code,
			       station_code    = EXCLUDED.station_code,
			       dispatched_time = EXCLUDED.dispatched_time,
			       arrival_time    = EXCLUDED.arrival_time,
			       departure_time  = EXCLUDED.departure_time`,
			v.ID, v.IncidentID, v.VehicleCode, v.StationCode,
			v.DispatchedTime, v.ArrivalTime, v.DepartureTime,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeDBUpsertFailed, "failed to upsert dispatched vehicle", err).
				WithDetails(map[string]any{"dispatch_id": v.ID, "incident_id": v.IncidentID})
		}
	}
	return nil
}

// UpsertDispatchedStations inserts or fully replaces each dispatched-station
// row keyed by its upstream dispatch id.
func (r *IncidentRepository) UpsertDispatchedStations(ctx context.Context, stations []types.DispatchedStation) error {
	for _, s := range stations {
		_, err := r.db.Exec(ctx,
			`INSERT INTO dispatched_stations
			   (id, incident_id, station_code, station_name,
			    dispatched_time, arrival_time, departure_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			   SET incident_id     = EXCLUDED.incident_id,
			       station_code    = EXCLUDED.station_code,
			       station_name    = EXCLUDED.station_name,
			       dispatched_time = EXCLUDED.dispatched_time,
			       arrival_time    = EXCLUDED.arrival_time,
			       departure_time  = EXCLUDED.departure_time`,
			s.ID, s.IncidentID, s.StationCode, s.StationName,
			s.DispatchedTime, s.ArrivalTime, s.DepartureTime,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeDBUpsertFailed, "failed to upsert dispatched station", err).
				WithDetails(map[string]any{"dispatch_id": s.ID, "incident_id": s.IncidentID})
		}
	}
	return nil
}

// ExistingIDs returns the subset of ids already present in the incidents
// table. Discovery diffs the upstream listing against this set.
func (r *IncidentRepository) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id FROM incidents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to query existing incident ids", err)
	}
	defer rows.Close()

	var existing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to scan incident id", err)
		}
		existing = append(existing, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to read existing incident ids", err)
	}

	return existing, nil
}

// FindIncident returns the incident row for the given id, or nil if it does
// not exist.
func (r *IncidentRepository) FindIncident(ctx context.Context, id int64) (*types.Incident, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, incident_timestamp, incident_type, address, district,
		        latitude, longitude, is_open, modified_at
		   FROM incidents
		  WHERE id = $1`, id)

	var inc types.Incident
	err := row.Scan(
		&inc.ID,
		&inc.IncidentTimestamp,
		&inc.IncidentType,
		&inc.Address,
		&inc.District,
		&inc.Latitude,
		&inc.Longitude,
		&inc.IsOpen,
		&inc.ModifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to find incident", err).
			WithDetails(map[string]any{"incident_id": id})
	}

	return &inc, nil
}

// FindVehiclesInScene returns the incident's dispatched vehicles whose
// departure time is still the sentinel, i.e. vehicles dispatched but not yet
// returned. The closing evaluator treats a non-empty result as "keep open".
func (r *IncidentRepository) FindVehiclesInScene(ctx context.Context, incidentID int64) ([]types.DispatchedVehicle, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, incident_id, vehicle_code, station_code,
		        dispatched_time, arrival_time, departure_time
		   FROM dispatched_vehicles
		  WHERE incident_id = $1
		    AND departure_time < $2`,
		incidentID, sentinelCutoff)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to query vehicles in scene", err).
			WithDetails(map[string]any{"incident_id": incidentID})
	}
	defer rows.Close()

	var vehicles []types.DispatchedVehicle
	for rows.Next() {
		var v types.DispatchedVehicle
		if err := rows.Scan(
			&v.ID,
			&v.IncidentID,
			&v.VehicleCode,
			&v.StationCode,
			&v.DispatchedTime,
			&v.ArrivalTime,
			&v.DepartureTime,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to scan dispatched vehicle", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeDBQueryFailed, "failed to read vehicles in scene", err)
	}

	return vehicles, nil
}

// CloseIncident sets is_open = false for the incident. The statement only
// ever writes false, so closing is monotonic by construction.
func (r *IncidentRepository) CloseIncident(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE incidents
		    SET is_open = false, modified_at = now()
		  WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeDBUpsertFailed, "failed to close incident", err).
			WithDetails(map[string]any{"incident_id": id})
	}
	return nil
}
