package sigae

// Wire payloads as SIGAE returns them. Field names follow the upstream
// Spanish schema; timestamps arrive as strings and are parsed during
// transformation, not decoding, so a malformed dispatch row fails loudly
// instead of silently zeroing.

// IncidentSummary is one row of the latest-incidents listing. The listing
// exposes more columns upstream, but discovery only needs the id.
type IncidentSummary struct {
	ID int64 `json:"idBoleta"`
}

// IncidentDetail is the basic detail record for one incident.
type IncidentDetail struct {
	ID           int64  `json:"idBoleta"`
	Timestamp    string `json:"fechaHoraBoleta"`
	IncidentType string `json:"tipoIncidente"`
	Address      string `json:"direccion"`
	District     string `json:"distrito"`
}

// IncidentReport is the operational report record. It carries the geocoded
// coordinates, which stay at the literal "0"/"0" until dispatch fills them in.
type IncidentReport struct {
	ID        int64  `json:"idBoleta"`
	Latitude  string `json:"latitud"`
	Longitude string `json:"longitud"`
}

// StationAttending is one station assigned to the incident.
type StationAttending struct {
	ID             int64  `json:"idDespacho"`
	IncidentID     int64  `json:"idBoleta"`
	StationCode    string `json:"codigoEstacion"`
	StationName    string `json:"nombreEstacion"`
	DispatchedTime string `json:"horaDespacho"`
	ArrivalTime    string `json:"horaLlegada"`
	DepartureTime  string `json:"horaRetiro"`
}

// VehicleDispatched is one vehicle assigned to the incident. A vehicle with
// an empty or year-1 horaRetiro is still in scene.
type VehicleDispatched struct {
	ID             int64  `json:"idDespacho"`
	IncidentID     int64  `json:"idBoleta"`
	VehicleCode    string `json:"codigoUnidad"`
	StationCode    string `json:"codigoEstacion"`
	DispatchedTime string `json:"horaDespacho"`
	ArrivalTime    string `json:"horaLlegada"`
	DepartureTime  string `json:"horaRetiro"`
}
