package collect

import (
	"time"
)

// HealthLevel classifies a collector or the whole registry.
type HealthLevel string

const (
	HealthHealthy HealthLevel = "healthy"
	HealthWarning HealthLevel = "warning"
	HealthError   HealthLevel = "error"
)

// healthWindowSize bounds how many recent outcomes feed the success rate.
const healthWindowSize = 20

// classifyRate maps a 0-1 success rate onto a health level using the
// configured thresholds.
func classifyRate(rate, healthyThreshold, warningThreshold float64) HealthLevel {
	switch {
	case rate >= healthyThreshold:
		return HealthHealthy
	case rate >= warningThreshold:
		return HealthWarning
	default:
		return HealthError
	}
}

// healthWindow is a fixed-size ring of recent poll outcomes for one
// collector. Not safe for concurrent use; the scheduler serializes access.
type healthWindow struct {
	outcomes    [healthWindowSize]bool
	next        int
	count       int
	lastError   string
	lastErrorAt *time.Time
}

func (w *healthWindow) recordSuccess() {
	w.record(true)
}

func (w *healthWindow) recordFailure(err error, at time.Time) {
	w.record(false)
	w.lastError = err.Error()
	w.lastErrorAt = &at
}

func (w *healthWindow) record(ok bool) {
	w.outcomes[w.next] = ok
	w.next = (w.next + 1) % healthWindowSize
	if w.count < healthWindowSize {
		w.count++
	}
}

// successRate returns the fraction of recent polls that succeeded.
// A window with no recorded polls reports 1.0: a collector that has never
// run is not yet evidence of a problem.
func (w *healthWindow) successRate() float64 {
	if w.count == 0 {
		return 1.0
	}
	succeeded := 0
	for i := 0; i < w.count; i++ {
		if w.outcomes[i] {
			succeeded++
		}
	}
	return float64(succeeded) / float64(w.count)
}

// Metrics is the scheduler's cumulative counter snapshot.
type Metrics struct {
	TotalCollections      int64                         `json:"total_collections"`
	SuccessfulCollections int64                         `json:"successful_collections"`
	FailedCollections     int64                         `json:"failed_collections"`
	AvgDurationMs         float64                       `json:"avg_duration_ms"`
	TotalDataSizeBytes    int64                         `json:"total_data_size_bytes"`
	PerCollector          map[SourceType]map[string]any `json:"per_collector"`
}

// CollectorHealth is one collector's entry in the status rollup.
type CollectorHealth struct {
	Level       HealthLevel `json:"level"`
	SuccessRate float64     `json:"success_rate"`
	LastError   string      `json:"last_error,omitempty"`
	LastErrorAt *time.Time  `json:"last_error_at,omitempty"`
}

// HealthRollup is the weighted system-wide health view: overall level is
// classified from the average per-collector success rate. A registry with
// zero collectors is an error.
type HealthRollup struct {
	Overall      HealthLevel                    `json:"overall"`
	PerCollector map[SourceType]CollectorHealth `json:"per_collector"`
	Issues       []string                       `json:"issues,omitempty"`
}

// Status is the scheduler's point-in-time status surface, rebuilt on demand.
type Status struct {
	IsRunning           bool                     `json:"is_running"`
	ActiveCollectors    []SourceType             `json:"active_collectors"`
	LastCollectionTimes map[SourceType]time.Time `json:"last_collection_times"`
	CollectionsToday    int64                    `json:"collections_today"`
	ErrorsToday         int64                    `json:"errors_today"`
	TotalDataSize       int64                    `json:"total_data_size"`
	Health              HealthRollup             `json:"health_status"`
	System              *SystemMetrics           `json:"system,omitempty"`
}
