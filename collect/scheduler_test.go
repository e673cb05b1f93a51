package collect

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/logger"
)

// mockCollector counts Collect calls and returns a canned result or error.
type mockCollector struct {
	collects     int64
	configureErr error
	collectErr   error
	quality      float64
	disconnected atomic.Bool
}

func (m *mockCollector) Configure(cfg CollectorConfig) error { return m.configureErr }

func (m *mockCollector) Collect(ctx context.Context, cfg CollectorConfig) (*CollectionResult, error) {
	atomic.AddInt64(&m.collects, 1)
	if m.collectErr != nil {
		return nil, m.collectErr
	}
	quality := m.quality
	if quality == 0 {
		quality = 0.9
	}
	return &CollectionResult{
		SourceID:     "mock-source",
		SourceType:   SourceIoT,
		Timestamp:    time.Now(),
		PayloadKind:  PayloadKindSensorReadings,
		Payload:      json.RawMessage(`{"temperature_c":21.5}`),
		QualityScore: quality,
		Metadata:     ResultMetadata{SizeBytes: 24},
	}, nil
}

func (m *mockCollector) Disconnect() error {
	m.disconnected.Store(true)
	return nil
}

func (m *mockCollector) IsHealthy() bool            { return true }
func (m *mockCollector) HealthStatus() HealthStatus { return HealthStatus{Healthy: true} }
func (m *mockCollector) Metrics() map[string]any {
	return map[string]any{"collects": atomic.LoadInt64(&m.collects)}
}

func (m *mockCollector) collectCount() int64 { return atomic.LoadInt64(&m.collects) }

// mockStore records saved observations in memory.
type mockStore struct {
	mu    sync.Mutex
	saved []*CollectionResult
	err   error
}

func (s *mockStore) SaveObservation(ctx context.Context, res *CollectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, res)
	return nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// mockCache implements Cache over plain maps.
type mockCache struct {
	mu        sync.Mutex
	latest    map[string]*CollectionResult
	summaries map[string]json.RawMessage
}

func newMockCache() *mockCache {
	return &mockCache{
		latest:    make(map[string]*CollectionResult),
		summaries: make(map[string]json.RawMessage),
	}
}

func (c *mockCache) SetLatest(sourceID string, sourceType SourceType, res *CollectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[sourceID+":"+string(sourceType)] = res
}

func (c *mockCache) Latest(sourceID string, sourceType SourceType) (*CollectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.latest[sourceID+":"+string(sourceType)]
	return res, ok
}

func (c *mockCache) SetSummary(sourceID string, sourceType SourceType, summary json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries[sourceID+":"+string(sourceType)] = summary
}

func (c *mockCache) Summary(sourceID string, sourceType SourceType) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.summaries[sourceID+":"+string(sourceType)]
	return s, ok
}

// mockEnricher records queued jobs.
type mockEnricher struct {
	mu   sync.Mutex
	jobs []queuedJob
}

type queuedJob struct {
	jobID    string
	dataType string
	priority int
}

func (e *mockEnricher) Queue(jobID string, dataType string, payload json.RawMessage, jobCtx map[string]string, priority int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, queuedJob{jobID: jobID, dataType: dataType, priority: priority})
	return nil
}

func (e *mockEnricher) queued() []queuedJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]queuedJob(nil), e.jobs...)
}

func testCollectionConfig() config.CollectionConfig {
	return config.CollectionConfig{
		DefaultFrequencySeconds: 1,
		HealthyThreshold:        0.8,
		WarningThreshold:        0.5,
	}
}

func newTestScheduler(cfg config.CollectionConfig, st Store, enricher Enricher) (*Scheduler, *mockCache) {
	cache := newMockCache()
	return NewScheduler(cfg, st, cache, enricher, NewEmitter(), logger.Logger), cache
}

func TestSchedulerCollectsAtFrequency(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: 100 * time.Millisecond,
	}))

	s.Start()
	time.Sleep(350 * time.Millisecond)
	s.Stop()

	// 1 immediate run + ticks at ~100/200/300ms.
	assert.Equal(t, int64(4), coll.collectCount())
	assert.Equal(t, int64(4), s.Metrics().SuccessfulCollections)
	assert.Equal(t, 4, st.count())
	// Even near-instant polls contribute a nonzero duration to the average.
	assert.Greater(t, s.Metrics().AvgDurationMs, 0.0)
}

// slowCollector waits before answering, giving up early if its context is
// cancelled.
type slowCollector struct {
	mockCollector
	delay time.Duration
}

func (c *slowCollector) Collect(ctx context.Context, cfg CollectorConfig) (*CollectionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}
	return c.mockCollector.Collect(ctx, cfg)
}

func TestSchedulerStopLetsInFlightCollectionFinish(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &slowCollector{delay: 150 * time.Millisecond}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))

	s.Start()
	time.Sleep(30 * time.Millisecond) // immediate collection is mid-poll
	s.Stop()

	// Stop waits for the in-flight poll instead of cancelling it, so the
	// result is recorded and persisted.
	assert.Equal(t, int64(1), s.Metrics().SuccessfulCollections)
	assert.Equal(t, int64(0), s.Metrics().FailedCollections)
	assert.Equal(t, 1, st.count())
}

func TestSchedulerStopHaltsScheduling(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: 30 * time.Millisecond,
	}))

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	after := coll.collectCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, coll.collectCount(), "collections continued after Stop")
}

func TestSchedulerStopStartResumesCleanSchedule(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: 100 * time.Millisecond,
	}))

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	require.Equal(t, int64(1), coll.collectCount())

	// Restart behaves like a fresh single schedule, not a doubled one.
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(3), coll.collectCount()) // 1 before + immediate + one tick
}

func TestSchedulerDoubleStartIsNoOp(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: 200 * time.Millisecond,
	}))

	s.Start()
	s.Start() // must not spawn a second loop
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(1), coll.collectCount())
}

func TestRegisterCollectorRejectsUnknownType(t *testing.T) {
	s, _ := newTestScheduler(testCollectionConfig(), &mockStore{}, nil)

	err := s.RegisterCollector(SourceType("sonar"), "x", &mockCollector{}, CollectorConfig{Enabled: true})
	assert.Error(t, err)
}

func TestRegisterCollectorRejectsConfigureError(t *testing.T) {
	s, _ := newTestScheduler(testCollectionConfig(), &mockStore{}, nil)
	coll := &mockCollector{configureErr: errors.New("missing hub url")}

	err := s.RegisterCollector(SourceIoT, "x", coll, CollectorConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRegisterCollectorReplacesPrior(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	first := &mockCollector{}
	second := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "a", first, CollectorConfig{
		Enabled:   true,
		Frequency: 20 * time.Millisecond,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.RegisterCollector(SourceIoT, "b", second, CollectorConfig{
		Enabled:   true,
		Frequency: 20 * time.Millisecond,
	}))

	firstCount := first.collectCount()
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.True(t, first.disconnected.Load())
	assert.LessOrEqual(t, first.collectCount(), firstCount+1, "replaced collector kept polling")
	assert.Positive(t, second.collectCount())
}

func TestSchedulerRecordsFailuresAndRetriesNextTick(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	coll := &mockCollector{collectErr: errors.New("hub unreachable")}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: 40 * time.Millisecond,
	}))

	s.Start()
	time.Sleep(110 * time.Millisecond)
	s.Stop()

	// Failed ticks keep the schedule: immediate + ~2 retries.
	assert.GreaterOrEqual(t, coll.collectCount(), int64(2))

	metrics := s.Metrics()
	assert.Equal(t, metrics.TotalCollections, metrics.FailedCollections)
	assert.Zero(t, metrics.SuccessfulCollections)
	assert.Zero(t, st.count())

	status := s.Status()
	assert.Equal(t, HealthError, status.Health.Overall)
	assert.Equal(t, HealthError, status.Health.PerCollector[SourceIoT].Level)
	require.NotEmpty(t, status.Health.Issues)
	assert.Contains(t, status.Health.Issues[0], "hub unreachable")
}

func TestSchedulerStorageFailureDoesNotDropResult(t *testing.T) {
	st := &mockStore{err: errors.New("disk full")}
	s, cache := newTestScheduler(testCollectionConfig(), st, nil)
	events := s.Emitter().Subscribe()
	defer s.Emitter().Unsubscribe(events)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	// Collection still counts as a success and the cache is still updated.
	assert.Equal(t, int64(1), s.Metrics().SuccessfulCollections)
	_, ok := cache.Latest("mock-source", SourceIoT)
	assert.True(t, ok)

	var sawStorageFailed bool
	for len(events) > 0 {
		if (<-events).EventType() == "storage_failed" {
			sawStorageFailed = true
		}
	}
	assert.True(t, sawStorageFailed)
}

func TestSchedulerQueuesEnrichmentByPriorityList(t *testing.T) {
	cfg := testCollectionConfig()
	cfg.EnrichmentPriority = []string{"photo", "iot"}
	enricher := &mockEnricher{}
	s, _ := newTestScheduler(cfg, &mockStore{}, enricher)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	jobs := enricher.queued()
	require.Len(t, jobs, 1)
	// iot is second in the priority list.
	assert.Equal(t, 2, jobs[0].priority)
	assert.Equal(t, PayloadKindSensorReadings, jobs[0].dataType)
	assert.Contains(t, jobs[0].jobID, "EJ_iot_")
}

func TestSchedulerSkipsEnrichmentForUnlistedSources(t *testing.T) {
	cfg := testCollectionConfig()
	cfg.EnrichmentPriority = []string{"photo"}
	enricher := &mockEnricher{}
	s, _ := newTestScheduler(cfg, &mockStore{}, enricher)

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", &mockCollector{}, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Empty(t, enricher.queued())
}

func TestSchedulerCachesSummary(t *testing.T) {
	s, cache := newTestScheduler(testCollectionConfig(), &mockStore{}, nil)

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", &mockCollector{}, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	raw, ok := cache.Summary("mock-source", SourceIoT)
	require.True(t, ok)

	var summary SourceSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, SourceIoT, summary.SourceType)
	assert.Equal(t, int64(1), summary.Collections)
	assert.InDelta(t, 1.0, summary.SuccessRate, 0.001)
	assert.InDelta(t, 0.9, summary.QualityScore, 0.001)
}

func TestStatusWithZeroCollectorsIsError(t *testing.T) {
	s, _ := newTestScheduler(testCollectionConfig(), &mockStore{}, nil)

	status := s.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, HealthError, status.Health.Overall)
}

func TestStatusHealthRollupAveragesCollectors(t *testing.T) {
	st := &mockStore{}
	s, _ := newTestScheduler(testCollectionConfig(), st, nil)
	healthy := &mockCollector{}
	broken := &mockCollector{collectErr: errors.New("dead sensor")}

	require.NoError(t, s.RegisterCollector(SourceIoT, "ok", healthy, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))
	require.NoError(t, s.RegisterCollector(SourceWeather, "bad", broken, CollectorConfig{
		Enabled:   true,
		Frequency: time.Second,
	}))

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	status := s.Status()
	// Rates 1.0 and 0.0 average to 0.5: warning.
	assert.Equal(t, HealthWarning, status.Health.Overall)
	assert.Equal(t, HealthHealthy, status.Health.PerCollector[SourceIoT].Level)
	assert.Equal(t, HealthError, status.Health.PerCollector[SourceWeather].Level)
	assert.Equal(t, int64(1), status.CollectionsToday)
	assert.Equal(t, int64(1), status.ErrorsToday)
}

func TestSchedulerDisabledCollectorNeverRuns(t *testing.T) {
	s, _ := newTestScheduler(testCollectionConfig(), &mockStore{}, nil)
	coll := &mockCollector{}

	require.NoError(t, s.RegisterCollector(SourceIoT, "mock-source", coll, CollectorConfig{
		Enabled:   false,
		Frequency: 10 * time.Millisecond,
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, coll.collectCount())
	assert.Empty(t, s.Status().ActiveCollectors)
}
