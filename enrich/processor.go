// Package enrich implements the enrichment pipeline: a registry of pluggable
// processors, a synchronous processing path, and a priority-ordered,
// concurrency-bounded background job queue.
package enrich

import (
	"context"
	"encoding/json"
)

// Processor is a pluggable enrichment unit deriving additional insight from
// a collected batch. Processors must not return an error for recoverable
// conditions - they return a Result with populated Errors instead. A
// returned error (or a panic) is a processor-level failure: the pipeline
// records it and keeps running the remaining processors.
type Processor interface {
	// Name identifies the processor in results and error records.
	Name() string

	// Priority orders execution: lower values run earlier. Ties keep
	// registration order.
	Priority() int

	// CanProcess reports whether the processor applies to a batch.
	CanProcess(dataType string, payload json.RawMessage) bool

	// Process runs the enrichment. pctx carries batch metadata
	// (source id, payload kind, ...) the processor may use.
	Process(ctx context.Context, payload json.RawMessage, pctx map[string]string) (*Result, error)
}

// Result is the immutable output of one processor run.
type Result struct {
	ProcessorType    string          `json:"processor_type"`
	Confidence       float64         `json:"confidence"` // 0-1
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	CostUSD          float64         `json:"cost_usd,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// EnrichedData aggregates every processor result for one input batch.
// Created once per enrichment job, persisted, then immutable.
type EnrichedData struct {
	OriginalData      json.RawMessage `json:"original_data"`
	DataType          string          `json:"data_type"`
	Enrichments       []Result        `json:"enrichments"`
	OverallConfidence float64         `json:"overall_confidence"` // mean of constituents, 0 if none ran
	TotalCostUSD      float64         `json:"total_cost_usd"`
	ProcessingErrors  []string        `json:"processing_errors,omitempty"`
}

// aggregate builds EnrichedData from collected results and errors.
func aggregate(dataType string, original json.RawMessage, results []Result, processingErrors []string) *EnrichedData {
	var confidenceSum, totalCost float64
	for _, r := range results {
		confidenceSum += r.Confidence
		totalCost += r.CostUSD
	}

	overall := 0.0
	if len(results) > 0 {
		overall = confidenceSum / float64(len(results))
	}

	return &EnrichedData{
		OriginalData:      original,
		DataType:          dataType,
		Enrichments:       results,
		OverallConfidence: overall,
		TotalCostUSD:      totalCost,
		ProcessingErrors:  processingErrors,
	}
}
