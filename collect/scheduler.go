package collect

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/errors"
)

// Store persists raw collection results. Implemented by the sqlite store;
// injected so the scheduler is testable without a database.
type Store interface {
	SaveObservation(ctx context.Context, res *CollectionResult) error
}

// Cache holds the latest result and a rolling summary per source, TTL-bound.
// Each source has exactly one writer (its own collector loop), so plain
// overwrite-last-writer semantics are sufficient.
type Cache interface {
	SetLatest(sourceID string, sourceType SourceType, res *CollectionResult)
	Latest(sourceID string, sourceType SourceType) (*CollectionResult, bool)
	SetSummary(sourceID string, sourceType SourceType, summary json.RawMessage)
	Summary(sourceID string, sourceType SourceType) (json.RawMessage, bool)
}

// Enricher receives successful collection results for background enrichment.
// Satisfied by enrich.JobQueue; injected to keep dependencies one-way.
type Enricher interface {
	Queue(jobID string, dataType string, payload json.RawMessage, jobCtx map[string]string, priority int) error
}

// SourceSummary is the rolling per-source digest kept in the cache.
type SourceSummary struct {
	SourceType   SourceType `json:"source_type"`
	LastSuccess  time.Time  `json:"last_success"`
	SuccessRate  float64    `json:"success_rate"`
	QualityScore float64    `json:"quality_score"`
	Collections  int64      `json:"collections"`
}

// registration tracks one collector and its scheduler-side bookkeeping.
type registration struct {
	sourceID  string
	collector Collector
	cfg       CollectorConfig
	health    healthWindow
	lastRunAt time.Time
	runs      int64
	cancel    context.CancelFunc // set while the collector's loop is active
}

// Scheduler owns the collector registry and runs one polling loop per
// enabled collector. Each loop arms its next tick only after the current
// collection completes, so ticks for one source never overlap; loops for
// different sources are fully independent.
type Scheduler struct {
	cfg     config.CollectionConfig
	store   Store
	cache   Cache
	enrich  Enricher // optional
	emitter *Emitter
	log     *zap.SugaredLogger

	mu        sync.Mutex
	registry  map[SourceType]*registration
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	// Cumulative counters. Guarded by mu; the incremental mean update keeps
	// AvgDurationMs exact without retaining per-run history.
	totalCollections      int64
	successfulCollections int64
	failedCollections     int64
	avgDurationMs         float64
	totalDataSize         int64

	// Daily counters, reset on date rollover.
	day              string
	collectionsToday int64
	errorsToday      int64

	lastCollection map[SourceType]time.Time

	timeNow func() time.Time // injectable for tests
}

// NewScheduler creates a scheduler. The enricher may be nil when background
// enrichment is disabled; store and cache must be non-nil.
func NewScheduler(cfg config.CollectionConfig, st Store, cache Cache, enricher Enricher, emitter *Emitter, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:            cfg,
		store:          st,
		cache:          cache,
		enrich:         enricher,
		emitter:        emitter,
		log:            log.Named("scheduler"),
		registry:       make(map[SourceType]*registration),
		lastCollection: make(map[SourceType]time.Time),
		timeNow:        time.Now,
	}
}

// RegisterCollector adds a collector for a source type, replacing any prior
// registration for the same type. The collector's Configure is called
// synchronously; a configuration error is fatal and rejects registration.
// Registering while running starts the new collector's loop immediately.
func (s *Scheduler) RegisterCollector(sourceType SourceType, sourceID string, c Collector, cfg CollectorConfig) error {
	if !IsValidSourceType(string(sourceType)) {
		return errors.Newf("unknown source type: %s", sourceType)
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = s.cfg.Frequency(string(sourceType))
	}

	if err := c.Configure(cfg); err != nil {
		err = errors.Wrapf(err, "invalid configuration for collector %s", sourceType)
		err = errors.WithHint(err, "fix the collector config and register again")
		return err
	}

	s.mu.Lock()
	if prior, ok := s.registry[sourceType]; ok {
		if prior.cancel != nil {
			prior.cancel()
		}
		if err := prior.collector.Disconnect(); err != nil {
			s.log.Warnw("Failed to disconnect replaced collector",
				"source_type", sourceType, "error", err)
		}
	}
	reg := &registration{sourceID: sourceID, collector: c, cfg: cfg}
	s.registry[sourceType] = reg

	launch := s.running && cfg.Enabled
	if launch {
		s.startLoopLocked(reg, sourceType)
	}
	s.mu.Unlock()

	s.emitter.Publish(CollectorRegistered{SourceType: sourceType, Enabled: cfg.Enabled})
	s.log.Infow("Collector registered",
		"source_type", sourceType,
		"source_id", sourceID,
		"enabled", cfg.Enabled,
		"frequency", cfg.Frequency)
	return nil
}

// Start launches a polling loop for every enabled collector. Each loop
// performs one immediate collection and then repeats at the collector's
// frequency. Calling Start while already running is a warning-level no-op;
// it never creates duplicate loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warnw("Scheduler already running, ignoring Start")
		return
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	started := 0
	for sourceType, reg := range s.registry {
		if !reg.cfg.Enabled {
			continue
		}
		s.startLoopLocked(reg, sourceType)
		started++
	}
	s.mu.Unlock()

	s.log.Infow("Scheduler started", "collectors", started)
}

// startLoopLocked spawns the polling loop for one registration.
// REQUIRES: s.mu held, s.running true.
func (s *Scheduler) startLoopLocked(reg *registration, sourceType SourceType) {
	loopCtx, cancel := context.WithCancel(s.runCtx)
	reg.cancel = cancel
	s.wg.Add(1)
	go s.runCollectorLoop(loopCtx, sourceType, reg)
}

// runCollectorLoop is the per-collector schedule: collect immediately, then
// re-arm a timer after each completed collection. Re-arming after completion
// (instead of a free-running ticker) is what guarantees non-overlapping
// ticks for one source.
func (s *Scheduler) runCollectorLoop(ctx context.Context, sourceType SourceType, reg *registration) {
	defer s.wg.Done()

	s.collectOnce(sourceType, reg)

	timer := time.NewTimer(reg.cfg.Frequency)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.collectOnce(sourceType, reg)
			timer.Reset(reg.cfg.Frequency)
		}
	}
}

// collectOnce runs one poll of one collector and records the outcome.
// A failure increments counters and the health window; the retry is the
// next scheduled tick, never an immediate re-poll.
// The loop context governs scheduling only. A collection already underway
// when Stop is called runs on a detached context, so it completes and its
// result is persisted; Stop's wg.Wait covers it.
func (s *Scheduler) collectOnce(sourceType SourceType, reg *registration) {
	s.emitter.Publish(CollectionStarted{SourceType: sourceType})

	ctx := context.Background()
	start := s.timeNow()
	res, err := reg.collector.Collect(ctx, reg.cfg)
	duration := s.timeNow().Sub(start)

	if err != nil {
		s.recordFailure(sourceType, reg, err, duration)
		return
	}
	if res == nil {
		s.recordFailure(sourceType, reg, errors.New("collector returned no result"), duration)
		return
	}
	if res.Metadata.Duration == 0 {
		res.Metadata.Duration = duration
	}

	s.recordSuccess(ctx, sourceType, reg, res, duration)
}

func (s *Scheduler) recordFailure(sourceType SourceType, reg *registration, err error, duration time.Duration) {
	now := s.timeNow()

	s.mu.Lock()
	s.rolloverDayLocked(now)
	s.totalCollections++
	s.failedCollections++
	s.errorsToday++
	reg.health.recordFailure(err, now)
	reg.runs++
	reg.lastRunAt = now
	s.mu.Unlock()

	s.emitter.Publish(CollectionFailed{SourceType: sourceType, Error: err.Error(), Duration: duration})
	s.log.Warnw("Collection failed",
		"source_type", sourceType,
		"duration", duration,
		"error", err)
}

func (s *Scheduler) recordSuccess(ctx context.Context, sourceType SourceType, reg *registration, res *CollectionResult, duration time.Duration) {
	now := s.timeNow()

	s.mu.Lock()
	s.rolloverDayLocked(now)
	s.totalCollections++
	s.successfulCollections++
	s.collectionsToday++
	s.totalDataSize += res.Metadata.SizeBytes
	// Incremental mean: avg' = avg + (x - avg) / n
	durationMs := float64(duration) / float64(time.Millisecond)
	s.avgDurationMs += (durationMs - s.avgDurationMs) / float64(s.successfulCollections)
	reg.health.recordSuccess()
	reg.runs++
	reg.lastRunAt = now
	s.lastCollection[sourceType] = now
	rate := reg.health.successRate()
	runs := reg.runs
	s.mu.Unlock()

	// Persistence and caching happen outside the lock; both may do I/O.
	if err := s.store.SaveObservation(ctx, res); err != nil {
		s.emitter.Publish(StorageFailed{SourceType: sourceType, Error: err.Error()})
		s.log.Errorw("Failed to persist observation",
			"source_type", sourceType,
			"source_id", res.SourceID,
			"error", err)
		// The in-memory result stands; recollection is cheap and idempotent.
	}

	s.cache.SetLatest(res.SourceID, sourceType, res)
	if summary, err := json.Marshal(SourceSummary{
		SourceType:   sourceType,
		LastSuccess:  now,
		SuccessRate:  rate,
		QualityScore: res.QualityScore,
		Collections:  runs,
	}); err == nil {
		s.cache.SetSummary(res.SourceID, sourceType, summary)
	}

	s.emitter.Publish(CollectionCompleted{
		SourceType: sourceType,
		Duration:   duration,
		DataSize:   res.Metadata.SizeBytes,
		Quality:    res.QualityScore,
	})

	s.maybeEnrich(sourceType, res)

	s.log.Infow("Collection completed",
		"source_type", sourceType,
		"source_id", res.SourceID,
		"duration", duration,
		"size_bytes", res.Metadata.SizeBytes,
		"quality", res.QualityScore)
}

// maybeEnrich queues the result for enrichment when its source type appears
// in the configured priority list. List position becomes job priority, so
// earlier entries run first when the queue is contended.
func (s *Scheduler) maybeEnrich(sourceType SourceType, res *CollectionResult) {
	if s.enrich == nil {
		return
	}

	priority := -1
	for i, t := range s.cfg.EnrichmentPriority {
		if t == string(sourceType) {
			priority = i + 1 // priority 1 = highest
			break
		}
	}
	if priority < 0 {
		return
	}

	jobID := enrichmentJobID(res)
	payload, err := json.Marshal(res)
	if err != nil {
		s.log.Errorw("Failed to marshal result for enrichment", "source_type", sourceType, "error", err)
		return
	}

	jobCtx := map[string]string{
		"source_id":    res.SourceID,
		"source_type":  string(sourceType),
		"payload_kind": res.PayloadKind,
	}
	if err := s.enrich.Queue(jobID, res.PayloadKind, payload, jobCtx, priority); err != nil {
		s.log.Errorw("Failed to queue enrichment job",
			"source_type", sourceType,
			"job_id", jobID,
			"error", err)
	}
}

// Stop cancels every polling loop. In-flight collections finish and their
// results are still recorded; only future scheduling stops. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	for _, reg := range s.registry {
		reg.cancel = nil
	}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Infow("Scheduler stopped")
}

// Status rebuilds the point-in-time status surface from the registry and
// counters. Always reflects the latest known health: one erroring collector
// never hides data from healthy ones.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverDayLocked(s.timeNow())

	active := make([]SourceType, 0, len(s.registry))
	lastTimes := make(map[SourceType]time.Time, len(s.lastCollection))
	for t, at := range s.lastCollection {
		lastTimes[t] = at
	}

	perCollector := make(map[SourceType]CollectorHealth, len(s.registry))
	var issues []string
	var rateSum float64

	for sourceType, reg := range s.registry {
		if s.running && reg.cfg.Enabled {
			active = append(active, sourceType)
		}
		rate := reg.health.successRate()
		level := classifyRate(rate, s.cfg.HealthyThreshold, s.cfg.WarningThreshold)
		perCollector[sourceType] = CollectorHealth{
			Level:       level,
			SuccessRate: rate,
			LastError:   reg.health.lastError,
			LastErrorAt: reg.health.lastErrorAt,
		}
		rateSum += rate
		if level == HealthError && reg.health.lastError != "" {
			issues = append(issues, string(sourceType)+": "+reg.health.lastError)
		}
	}

	overall := HealthError // zero collectors is an error
	if len(s.registry) > 0 {
		overall = classifyRate(rateSum/float64(len(s.registry)), s.cfg.HealthyThreshold, s.cfg.WarningThreshold)
	}

	return Status{
		IsRunning:           s.running,
		ActiveCollectors:    active,
		LastCollectionTimes: lastTimes,
		CollectionsToday:    s.collectionsToday,
		ErrorsToday:         s.errorsToday,
		TotalDataSize:       s.totalDataSize,
		Health: HealthRollup{
			Overall:      overall,
			PerCollector: perCollector,
			Issues:       issues,
		},
		System: getSystemMetrics(),
	}
}

// Metrics returns the cumulative counter snapshot, with per-collector
// counters delegated to each collector.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	perCollector := make(map[SourceType]map[string]any, len(s.registry))
	for sourceType, reg := range s.registry {
		perCollector[sourceType] = reg.collector.Metrics()
	}

	return Metrics{
		TotalCollections:      s.totalCollections,
		SuccessfulCollections: s.successfulCollections,
		FailedCollections:     s.failedCollections,
		AvgDurationMs:         s.avgDurationMs,
		TotalDataSizeBytes:    s.totalDataSize,
		PerCollector:          perCollector,
	}
}

// Emitter exposes the event emitter for subscribers (server, logging).
func (s *Scheduler) Emitter() *Emitter {
	return s.emitter
}

// enrichmentJobID builds a readable, unique id for an enrichment job.
func enrichmentJobID(res *CollectionResult) string {
	return "EJ_" + string(res.SourceType) + "_" + uuid.NewString()
}

// rolloverDayLocked resets the daily counters when the date changes.
// REQUIRES: s.mu held.
func (s *Scheduler) rolloverDayLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if s.day != day {
		s.day = day
		s.collectionsToday = 0
		s.errorsToday = 0
	}
}
