package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// registeredProcessor pairs a processor with its registration sequence,
// which breaks priority ties deterministically.
type registeredProcessor struct {
	proc Processor
	seq  int
}

// Pipeline holds the processor registry and runs batches through every
// applicable processor in priority order.
type Pipeline struct {
	mu         sync.RWMutex
	processors []registeredProcessor
	log        *zap.SugaredLogger
}

// NewPipeline creates an empty pipeline.
func NewPipeline(log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{log: log.Named("enrich")}
}

// Register adds a processor. Processors register once at startup; the order
// of registration is the tiebreak for equal priorities.
func (p *Pipeline) Register(proc Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, registeredProcessor{proc: proc, seq: len(p.processors)})
	p.log.Infow("Processor registered", "processor", proc.Name(), "priority", proc.Priority())
}

// Processors returns the names of registered processors in priority order.
func (p *Pipeline) Processors() []string {
	p.mu.RLock()
	accepted := make([]registeredProcessor, len(p.processors))
	copy(accepted, p.processors)
	p.mu.RUnlock()

	sortByPriority(accepted)
	names := make([]string, len(accepted))
	for i, rp := range accepted {
		names[i] = rp.proc.Name()
	}
	return names
}

// Process runs the batch synchronously through every applicable processor
// and aggregates their results. A processor failure (returned error or
// panic) is recorded against its name and never aborts the remaining
// processors.
func (p *Pipeline) Process(ctx context.Context, dataType string, payload json.RawMessage, pctx map[string]string) *EnrichedData {
	p.mu.RLock()
	accepted := make([]registeredProcessor, 0, len(p.processors))
	for _, rp := range p.processors {
		if rp.proc.CanProcess(dataType, payload) {
			accepted = append(accepted, rp)
		}
	}
	p.mu.RUnlock()

	sortByPriority(accepted)

	var results []Result
	var processingErrors []string

	for _, rp := range accepted {
		result, err := p.runProcessor(ctx, rp.proc, payload, pctx)
		if err != nil {
			processingErrors = append(processingErrors, fmt.Sprintf("%s: %v", rp.proc.Name(), err))
			p.log.Warnw("Processor failed",
				"processor", rp.proc.Name(),
				"data_type", dataType,
				"error", err)
			continue
		}
		results = append(results, *result)
	}

	return aggregate(dataType, payload, results, processingErrors)
}

// runProcessor executes one processor, converting panics into errors so a
// misbehaving processor cannot take down the pipeline.
func (p *Pipeline) runProcessor(ctx context.Context, proc Processor, payload json.RawMessage, pctx map[string]string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	result, err = proc.Process(ctx, payload, pctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("processor returned no result")
	}
	if result.ProcessorType == "" {
		result.ProcessorType = proc.Name()
	}
	if result.ProcessingTimeMs == 0 {
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

// sortByPriority orders by ascending priority, registration order for ties.
func sortByPriority(procs []registeredProcessor) {
	sort.SliceStable(procs, func(i, j int) bool {
		pi, pj := procs[i].proc.Priority(), procs[j].proc.Priority()
		if pi != pj {
			return pi < pj
		}
		return procs[i].seq < procs[j].seq
	})
}
