// Package config defines the configuration structure for the SIGAE incident
// sync service. Configuration is loaded once at process start and is immutable
// thereafter. It follows 12-Factor principles: all values come from the
// environment (optionally via a .env file), and any missing required value or
// invalid format aborts startup (fail fast).
package config

import (
	"time"

	"sigsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the sync service.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sigae-sync-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Database  DatabaseConfig
	Sigae     SigaeConfig
	Sync      SyncConfig
	Ops       OpsConfig
	Telemetry TelemetryConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SigaeConfig holds the upstream SIGAE API endpoint and credentials.
//
// Timeout bounds every single upstream call. A finite per-call timeout is what
// keeps a hung upstream request from permanently occupying one of the bounded
// sync-worker slots.
type SigaeConfig struct {
	BaseURL   string        `envconfig:"SIGAE_BASE_URL" validate:"required,url"`
	APIKey    SecretString  `envconfig:"SIGAE_API_KEY" validate:"required"`
	Timeout   time.Duration `envconfig:"SIGAE_TIMEOUT" default:"30s"`
	UserAgent string        `envconfig:"SIGAE_USER_AGENT" default:"SigaeSync/1.0"`
}

// SyncConfig holds the pipeline cadences and thresholds. The defaults are the
// reference values; operators can tune them without a rebuild.
type SyncConfig struct {
	// DiscoveryCron is the recurring discovery cadence (standard 5-field cron).
	DiscoveryCron string `envconfig:"SYNC_DISCOVERY_CRON" default:"* * * * *"`
	// PageSize is how many recent incident summaries discovery fetches.
	PageSize int `envconfig:"SYNC_PAGE_SIZE" default:"50" validate:"min=1"`
	// RequeueDelay is the fixed delay before an open incident is re-synced.
	RequeueDelay time.Duration `envconfig:"SYNC_REQUEUE_DELAY" default:"3m"`
	// ClosingAge is the minimum incident age before it may be marked closed.
	ClosingAge time.Duration `envconfig:"SYNC_CLOSING_AGE" default:"72h"`
	// Concurrency bounds how many incidents are synced in parallel.
	Concurrency int `envconfig:"SYNC_CONCURRENCY" default:"5" validate:"min=1"`
	// PollInterval is how often queue consumers look for eligible jobs.
	PollInterval time.Duration `envconfig:"SYNC_POLL_INTERVAL" default:"1s"`
	// ClaimTTL is how long a claimed job may run before a crashed worker's
	// claim is reclaimed and the job returned to pending.
	ClaimTTL time.Duration `envconfig:"SYNC_CLAIM_TTL" default:"10m"`
}

// OpsConfig holds the operational HTTP surface settings.
type OpsConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8080"`
}

// TelemetryConfig holds metrics emission settings. When CloudWatch is
// disabled (local development), a no-op recorder is wired instead.
type TelemetryConfig struct {
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"SigaeSync"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH" default:"false"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
