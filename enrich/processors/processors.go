// Package processors holds the built-in enrichment processors registered by
// the serve command. Each one is local compute with no external calls, so
// cost stays at zero and only remote processors draw on the budget.
package processors

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/collectors/iothub"
	"github.com/verdant-labs/verdant/collectors/photo"
	"github.com/verdant-labs/verdant/enrich"
)

// SensorStats summarizes a batch of sensor readings: per-kind min/max/mean
// and readings outside plausible physical ranges.
type SensorStats struct {
	log *zap.SugaredLogger
}

// NewSensorStats creates the sensor statistics processor.
func NewSensorStats(log *zap.SugaredLogger) *SensorStats {
	return &SensorStats{log: log.Named("sensor-stats")}
}

func (p *SensorStats) Name() string { return "sensor_stats" }

func (p *SensorStats) Priority() int { return 10 }

func (p *SensorStats) CanProcess(dataType string, payload json.RawMessage) bool {
	return dataType == collect.PayloadKindSensorReadings
}

// KindStats aggregates every reading of one sensor kind.
type KindStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// SensorSummary is the result payload of SensorStats.
type SensorSummary struct {
	Readings  int                  `json:"readings"`
	ByKind    map[string]KindStats `json:"by_kind"`
	Anomalies []string             `json:"anomalies,omitempty"`
}

// plausibleRanges bound what a garden sensor can physically report.
var plausibleRanges = map[string][2]float64{
	"temperature":   {-40, 60},
	"humidity":      {0, 100},
	"soil_moisture": {0, 100},
	"light":         {0, 200000},
	"ph":            {0, 14},
}

func (p *SensorStats) Process(ctx context.Context, payload json.RawMessage, pctx map[string]string) (*enrich.Result, error) {
	start := time.Now()

	var res collect.CollectionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	var readings []iothub.Reading
	if err := json.Unmarshal(res.Payload, &readings); err != nil {
		return nil, err
	}

	summary := SensorSummary{
		Readings: len(readings),
		ByKind:   make(map[string]KindStats),
	}
	for _, r := range readings {
		st := summary.ByKind[r.Kind]
		if st.Count == 0 || r.Value < st.Min {
			st.Min = r.Value
		}
		if st.Count == 0 || r.Value > st.Max {
			st.Max = r.Value
		}
		st.Count++
		st.Mean += (r.Value - st.Mean) / float64(st.Count)
		summary.ByKind[r.Kind] = st

		if bounds, ok := plausibleRanges[r.Kind]; ok && (r.Value < bounds[0] || r.Value > bounds[1]) {
			summary.Anomalies = append(summary.Anomalies,
				r.SensorID+": "+r.Kind+" out of range")
		}
	}

	if len(summary.Anomalies) > 0 {
		p.log.Debugw("Readings outside plausible ranges",
			"source_id", pctx["source_id"],
			"anomalies", len(summary.Anomalies))
	}

	out, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	confidence := 1.0
	if len(readings) > 0 {
		confidence = 1.0 - float64(len(summary.Anomalies))/float64(len(readings))
	}

	return &enrich.Result{
		ProcessorType:    p.Name(),
		Confidence:       confidence,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Result:           out,
	}, nil
}

// PhotoSummary indexes a photo batch: counts, total size, and extensions.
type PhotoSummary struct {
	log *zap.SugaredLogger
}

// NewPhotoSummary creates the photo batch processor.
func NewPhotoSummary(log *zap.SugaredLogger) *PhotoSummary {
	return &PhotoSummary{log: log.Named("photo-summary")}
}

func (p *PhotoSummary) Name() string { return "photo_summary" }

func (p *PhotoSummary) Priority() int { return 20 }

func (p *PhotoSummary) CanProcess(dataType string, payload json.RawMessage) bool {
	return dataType == collect.PayloadKindPhotoBatch
}

// BatchIndex is the result payload of PhotoSummary.
type BatchIndex struct {
	Files          int            `json:"files"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	ByExtension    map[string]int `json:"by_extension,omitempty"`
}

func (p *PhotoSummary) Process(ctx context.Context, payload json.RawMessage, pctx map[string]string) (*enrich.Result, error) {
	start := time.Now()

	var res collect.CollectionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	var batch photo.Batch
	if err := json.Unmarshal(res.Payload, &batch); err != nil {
		return nil, err
	}

	p.log.Debugw("Indexing photo batch", "watch_dir", batch.WatchDir, "files", len(batch.Files))

	index := BatchIndex{Files: len(batch.Files)}
	for _, f := range batch.Files {
		index.TotalSizeBytes += f.SizeBytes
		ext := strings.ToLower(filepath.Ext(f.Path))
		if ext == "" {
			continue
		}
		if index.ByExtension == nil {
			index.ByExtension = make(map[string]int)
		}
		index.ByExtension[ext]++
	}

	out, err := json.Marshal(index)
	if err != nil {
		return nil, err
	}

	return &enrich.Result{
		ProcessorType:    p.Name(),
		Confidence:       1.0,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Result:           out,
	}, nil
}

// RegisterBuiltins adds every built-in processor to the pipeline.
func RegisterBuiltins(pipeline *enrich.Pipeline, log *zap.SugaredLogger) {
	pipeline.Register(NewSensorStats(log))
	pipeline.Register(NewPhotoSummary(log))
}
