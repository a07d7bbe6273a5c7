package types

// redactedPlaceholder replaces secret values anywhere they would otherwise
// surface in log output or serialized config.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential the sync worker must never log: the SIGAE
// API key and the Postgres connection URL are the two in use. Both String()
// and MarshalJSON() yield a redacted placeholder, so the value stays masked
// through fmt, slog, and JSON config dumps alike.
//
// Unmask() returns the plaintext; call it only at the point of use, when
// building the X-Api-Key header or opening the connection pool.
type SecretString string

// String returns the redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext secret.
func (s SecretString) Unmask() string {
	return string(s)
}
