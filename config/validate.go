package config

import (
	"time"

	"github.com/verdant-labs/verdant/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d (omit for default %d)", *c.Server.Port, DefaultServerPort)
	}

	if c.Collection.DefaultFrequencySeconds <= 0 {
		return errors.Newf("collection.default_frequency_seconds must be > 0, got %d", c.Collection.DefaultFrequencySeconds)
	}
	for source, freq := range c.Collection.FrequencySeconds {
		if freq <= 0 {
			return errors.Newf("collection.frequency_seconds.%s must be > 0, got %d", source, freq)
		}
	}

	if c.Collection.HealthyThreshold <= 0 || c.Collection.HealthyThreshold > 1 {
		return errors.Newf("collection.healthy_threshold must be in (0,1], got %f", c.Collection.HealthyThreshold)
	}
	if c.Collection.WarningThreshold <= 0 || c.Collection.WarningThreshold > 1 {
		return errors.Newf("collection.warning_threshold must be in (0,1], got %f", c.Collection.WarningThreshold)
	}
	if c.Collection.WarningThreshold > c.Collection.HealthyThreshold {
		return errors.Newf("collection.warning_threshold (%f) must not exceed collection.healthy_threshold (%f)",
			c.Collection.WarningThreshold, c.Collection.HealthyThreshold)
	}

	if c.Enrichment.MaxConcurrentJobs <= 0 {
		return errors.Newf("enrichment.max_concurrent_jobs must be > 0, got %d", c.Enrichment.MaxConcurrentJobs)
	}
	if c.Enrichment.RequestsPerMinute < 0 {
		return errors.Newf("enrichment.requests_per_minute must be >= 0, got %d", c.Enrichment.RequestsPerMinute)
	}
	// Budget values: 0 = no budget enforcement, negative = invalid
	if c.Enrichment.DailyBudgetUSD < 0 {
		return errors.Newf("enrichment.daily_budget_usd must be >= 0, got %f", c.Enrichment.DailyBudgetUSD)
	}
	if c.Enrichment.MonthlyBudgetUSD < 0 {
		return errors.Newf("enrichment.monthly_budget_usd must be >= 0, got %f", c.Enrichment.MonthlyBudgetUSD)
	}

	if c.Conflict.WindowMinutes <= 0 {
		return errors.Newf("conflict.window_minutes must be > 0, got %d", c.Conflict.WindowMinutes)
	}
	if c.Conflict.MaxRetries < 0 {
		return errors.Newf("conflict.max_retries must be >= 0, got %d", c.Conflict.MaxRetries)
	}

	if c.Cache.TTLSeconds <= 0 {
		return errors.Newf("cache.ttl_seconds must be > 0, got %d", c.Cache.TTLSeconds)
	}

	for sourceType, src := range c.Sources {
		if src.Enabled && src.ID == "" {
			return errors.Newf("sources.%s.id must be set when the source is enabled", sourceType)
		}
	}

	return nil
}

// Frequency returns the poll interval for a source type, falling back to the
// default when the source has no explicit entry.
func (c *CollectionConfig) Frequency(sourceType string) time.Duration {
	if freq, ok := c.FrequencySeconds[sourceType]; ok {
		return time.Duration(freq) * time.Second
	}
	return time.Duration(c.DefaultFrequencySeconds) * time.Second
}

// Window returns the conflict grouping window as a duration.
func (c *ConflictConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// TTL returns the cache entry lifetime as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ServerPort returns the configured port or the default.
func (c *ServerConfig) ServerPort() int {
	if c.Port != nil {
		return *c.Port
	}
	return DefaultServerPort
}
