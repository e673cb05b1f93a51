package config

// Config represents the core verdant configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Collection CollectionConfig `mapstructure:"collection"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Conflict   ConflictConfig   `mapstructure:"conflict"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// Per-source collector wiring, keyed by source type ("iot", "weather",
	// "photo", "manual"). A source absent from the map is not registered.
	Sources map[string]SourceConfig `mapstructure:"sources"`
}

// SourceConfig wires one collector source into the scheduler.
type SourceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	ID      string `mapstructure:"id"` // source id reported in events and metrics
	// Collector-specific settings, e.g. hub_url for iot, api_url and
	// station_id for weather, watch_dir for photo.
	Settings map[string]string `mapstructure:"settings"`
}

// DatabaseConfig configures the SQLite observation store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the verdant status server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8740, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerPort is used when server.port is omitted.
const DefaultServerPort = 8740

// CollectionConfig configures the collection scheduler
type CollectionConfig struct {
	// Per-source poll frequencies, in seconds. A source absent from the map
	// falls back to DefaultFrequencySeconds.
	FrequencySeconds        map[string]int `mapstructure:"frequency_seconds"`
	DefaultFrequencySeconds int            `mapstructure:"default_frequency_seconds"`

	// Health classification thresholds on the 0-1 success-rate scale.
	HealthyThreshold float64 `mapstructure:"healthy_threshold"`
	WarningThreshold float64 `mapstructure:"warning_threshold"`

	// Source types whose results are handed to the enrichment pipeline,
	// in priority order (first = highest priority job).
	EnrichmentPriority []string `mapstructure:"enrichment_priority"`
}

// EnrichmentConfig configures the enrichment pipeline and its job queue
type EnrichmentConfig struct {
	MaxConcurrentJobs  int     `mapstructure:"max_concurrent_jobs"`  // queue worker slots (default: 3)
	DefaultJobPriority int     `mapstructure:"default_job_priority"` // lower runs first (default: 5)
	RequestsPerMinute  int     `mapstructure:"requests_per_minute"`  // rate limit on processor calls
	DailyBudgetUSD     float64 `mapstructure:"daily_budget_usd"`     // 0 = no budget enforcement
	MonthlyBudgetUSD   float64 `mapstructure:"monthly_budget_usd"`   // 0 = no budget enforcement
}

// ConflictConfig configures the cross-device conflict resolver
type ConflictConfig struct {
	WindowMinutes int `mapstructure:"window_minutes"` // time window grouping manual entries (default: 30)
	MaxRetries    int `mapstructure:"max_retries"`    // sync attempts before an entry is permanently failed
	// Device IDs in trust order, most-trusted first. Devices not listed rank last.
	DevicePriority []string `mapstructure:"device_priority"`
}

// CacheConfig configures the latest-result cache
type CacheConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`     // latest-result entry lifetime
	CleanupSeconds int `mapstructure:"cleanup_seconds"` // expired-entry sweep interval
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}
