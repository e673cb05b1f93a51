// Package collect implements the collection scheduler: a registry of source
// collectors, one polling loop per source, health and metrics bookkeeping,
// and hand-off of successful results to storage, caching, and enrichment.
package collect

import (
	"encoding/json"
	"time"
)

// SourceType tags which kind of source produced a collection result.
type SourceType string

const (
	SourceIoT     SourceType = "iot"
	SourceWeather SourceType = "weather"
	SourcePhoto   SourceType = "photo"
	SourceManual  SourceType = "manual"
)

// IsValidSourceType returns true if the string is a known SourceType.
func IsValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceIoT, SourceWeather, SourcePhoto, SourceManual:
		return true
	default:
		return false
	}
}

// ResultMetadata carries size and timing facts about one collector run.
type ResultMetadata struct {
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
}

// CollectionResult is the output of one collector run.
//
// Payload is schema-tagged bytes rather than a bare interface value:
// PayloadKind names the schema (e.g. "iot.readings/v1") so downstream
// processors decode into a concrete type instead of duck-typing.
// Results are created per poll, immutable, and consumed once by the
// scheduler before being persisted and discarded.
type CollectionResult struct {
	SourceID     string          `json:"source_id"`
	SourceType   SourceType      `json:"source_type"`
	Timestamp    time.Time       `json:"timestamp"`
	PayloadKind  string          `json:"payload_kind"`
	Payload      json.RawMessage `json:"payload"`
	QualityScore float64         `json:"quality_score"` // 0-1
	Metadata     ResultMetadata  `json:"metadata"`
}

// Payload schema kinds produced by the bundled collectors.
const (
	PayloadKindSensorReadings  = "iot.readings/v1"
	PayloadKindWeatherSnapshot = "weather.snapshot/v1"
	PayloadKindPhotoBatch      = "photo.batch/v1"
	PayloadKindManualBatch     = "manual.batch/v1"
)

// Quality derives a 0-1 quality score from the three component assessments
// the collector is responsible for: freshness, completeness, validity.
func Quality(freshness, completeness, validity float64) float64 {
	score := (clamp01(freshness) + clamp01(completeness) + clamp01(validity)) / 3
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
