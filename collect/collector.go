package collect

import (
	"context"
	"time"
)

// CollectorConfig carries the scheduler-facing settings for one registered
// collector. Settings holds source-specific fields the scheduler does not
// interpret (hub URL, watch directory, API key name, ...).
type CollectorConfig struct {
	Enabled   bool              `json:"enabled"`
	Frequency time.Duration     `json:"frequency"`
	Settings  map[string]string `json:"settings,omitempty"`
}

// HealthStatus is a collector's self-reported health.
type HealthStatus struct {
	Healthy     bool       `json:"healthy"`
	SuccessRate float64    `json:"success_rate"` // 0-1 over the collector's recent runs
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Collector is a pluggable source adapter producing CollectionResults on
// demand. One implementation exists per source type; the scheduler owns the
// polling cadence and never depends on protocol details.
//
// Configure is called synchronously at registration; an error there is fatal
// and rejects the registration. Collect errors are recoverable: the scheduler
// records them and retries on the next scheduled tick.
type Collector interface {
	Configure(cfg CollectorConfig) error
	Collect(ctx context.Context, cfg CollectorConfig) (*CollectionResult, error)
	Disconnect() error
	IsHealthy() bool
	HealthStatus() HealthStatus
	Metrics() map[string]any
}
