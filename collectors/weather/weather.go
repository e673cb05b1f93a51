// Package weather polls an HTTP weather feed for station snapshots.
package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/internal/httpclient"
)

const defaultRequestTimeout = 10 * time.Second

// Snapshot is one observation from the feed.
type Snapshot struct {
	StationID    string    `json:"station_id"`
	TemperatureC *float64  `json:"temperature_c,omitempty"`
	HumidityPct  *float64  `json:"humidity_pct,omitempty"`
	WindKph      *float64  `json:"wind_kph,omitempty"`
	PrecipMm     *float64  `json:"precip_mm,omitempty"`
	Condition    string    `json:"condition,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Collector polls a weather feed URL. Implements collect.Collector.
type Collector struct {
	client *httpclient.Client
	log    *zap.SugaredLogger

	mu          sync.Mutex
	feedURL     string
	stationID   string
	polls       int64
	failures    int64
	lastError   string
	lastErrorAt *time.Time
}

// New creates an unconfigured weather collector.
func New(log *zap.SugaredLogger) *Collector {
	return &Collector{
		client: httpclient.New(defaultRequestTimeout),
		log:    log.Named("weather"),
	}
}

// Configure validates and applies feed settings. Requires "api_url".
func (c *Collector) Configure(cfg collect.CollectorConfig) error {
	raw := cfg.Settings["api_url"]
	if raw == "" {
		return errors.WithHint(
			errors.New("weather collector requires api_url setting"),
			"set sources.weather.settings.api_url in verdant.toml")
	}
	if err := httpclient.ValidateEndpoint(raw); err != nil {
		return errors.Wrapf(err, "invalid api_url: %q", raw)
	}

	c.mu.Lock()
	c.feedURL = raw
	c.stationID = cfg.Settings["station_id"]
	c.mu.Unlock()
	return nil
}

// Collect fetches the current snapshot from the feed.
func (c *Collector) Collect(ctx context.Context, cfg collect.CollectorConfig) (*collect.CollectionResult, error) {
	c.mu.Lock()
	feedURL := c.feedURL
	stationID := c.stationID
	c.mu.Unlock()
	if feedURL == "" {
		return nil, errors.New("weather collector is not configured")
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "build feed request"))
	}
	if stationID != "" {
		q := req.URL.Query()
		q.Set("station", stationID)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "poll weather feed"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(errors.Newf("weather feed returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "read feed response"))
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, c.fail(errors.Wrap(err, "decode weather snapshot"))
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "encode snapshot payload"))
	}

	now := time.Now()
	quality := collect.Quality(freshness(snap, now), completeness(snap), validity(snap))

	c.mu.Lock()
	c.polls++
	c.mu.Unlock()

	sourceID := snap.StationID
	if sourceID == "" {
		sourceID = stationID
	}
	if sourceID == "" {
		sourceID = "weather-feed"
	}

	return &collect.CollectionResult{
		SourceID:     sourceID,
		SourceType:   collect.SourceWeather,
		Timestamp:    now,
		PayloadKind:  collect.PayloadKindWeatherSnapshot,
		Payload:      payload,
		QualityScore: quality,
		Metadata: collect.ResultMetadata{
			SizeBytes: int64(len(payload)),
			Duration:  time.Since(start),
		},
	}, nil
}

// freshness scores the snapshot's age against a one-hour horizon; weather
// older than two hours is worthless.
func freshness(snap Snapshot, now time.Time) float64 {
	if snap.ObservedAt.IsZero() {
		return 0
	}
	age := now.Sub(snap.ObservedAt)
	if age <= 0 {
		return 1
	}
	return 1 - float64(age)/float64(2*time.Hour)
}

// completeness is the fraction of measurement fields present.
func completeness(snap Snapshot) float64 {
	fields := 0
	if snap.TemperatureC != nil {
		fields++
	}
	if snap.HumidityPct != nil {
		fields++
	}
	if snap.WindKph != nil {
		fields++
	}
	if snap.PrecipMm != nil {
		fields++
	}
	if snap.Condition != "" {
		fields++
	}
	return float64(fields) / 5
}

// validity checks measured values against physical ranges.
func validity(snap Snapshot) float64 {
	checks, valid := 0, 0
	check := func(ok bool) {
		checks++
		if ok {
			valid++
		}
	}
	if snap.TemperatureC != nil {
		check(*snap.TemperatureC >= -60 && *snap.TemperatureC <= 60)
	}
	if snap.HumidityPct != nil {
		check(*snap.HumidityPct >= 0 && *snap.HumidityPct <= 100)
	}
	if snap.WindKph != nil {
		check(*snap.WindKph >= 0 && *snap.WindKph <= 400)
	}
	if snap.PrecipMm != nil {
		check(*snap.PrecipMm >= 0)
	}
	if checks == 0 {
		return 0
	}
	return float64(valid) / float64(checks)
}

func (c *Collector) fail(err error) error {
	now := time.Now()
	c.mu.Lock()
	c.polls++
	c.failures++
	c.lastError = err.Error()
	c.lastErrorAt = &now
	c.mu.Unlock()
	return err
}

// Disconnect releases idle connections.
func (c *Collector) Disconnect() error {
	c.client.CloseIdleConnections()
	return nil
}

// IsHealthy reports whether recent polls are mostly succeeding.
func (c *Collector) IsHealthy() bool {
	return c.HealthStatus().Healthy
}

// HealthStatus reports the collector's own poll success rate.
func (c *Collector) HealthStatus() collect.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := 1.0
	if c.polls > 0 {
		rate = float64(c.polls-c.failures) / float64(c.polls)
	}
	return collect.HealthStatus{
		Healthy:     rate >= 0.5,
		SuccessRate: rate,
		LastError:   c.lastError,
		LastErrorAt: c.lastErrorAt,
	}
}

// Metrics returns per-collector counters.
func (c *Collector) Metrics() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"polls":    c.polls,
		"failures": c.failures,
	}
}
