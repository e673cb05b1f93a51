package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "verdant.db")

	// Collection defaults
	v.SetDefault("collection.default_frequency_seconds", 300)
	v.SetDefault("collection.frequency_seconds", map[string]int{
		"iot":     120,
		"weather": 900,
		"photo":   600,
		"manual":  60,
	})
	v.SetDefault("collection.healthy_threshold", 0.8)
	v.SetDefault("collection.warning_threshold", 0.5)
	v.SetDefault("collection.enrichment_priority", []string{"photo", "iot", "manual"})

	// Enrichment defaults
	v.SetDefault("enrichment.max_concurrent_jobs", 3)
	v.SetDefault("enrichment.default_job_priority", 5)
	v.SetDefault("enrichment.requests_per_minute", 30)
	v.SetDefault("enrichment.daily_budget_usd", 3.0)
	v.SetDefault("enrichment.monthly_budget_usd", 15.0)

	// Conflict resolution defaults
	v.SetDefault("conflict.window_minutes", 30)
	v.SetDefault("conflict.max_retries", 3)

	// Cache defaults
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.cleanup_seconds", 600)

	// Logging defaults
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.debug", false)

	// Source defaults. The manual inbox needs no external endpoint, so it is
	// the only source enabled out of the box.
	v.SetDefault("sources.manual.enabled", true)
	v.SetDefault("sources.manual.id", "manual-journal")
}
