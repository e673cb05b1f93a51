// Package iothub polls an IoT hub's HTTP endpoint for sensor readings.
package iothub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/internal/httpclient"
)

const defaultRequestTimeout = 10 * time.Second

// Reading is one sensor sample as reported by the hub.
type Reading struct {
	SensorID string    `json:"sensor_id"`
	Kind     string    `json:"kind"` // temperature, humidity, soil_moisture, ...
	Value    float64   `json:"value"`
	Unit     string    `json:"unit,omitempty"`
	TakenAt  time.Time `json:"taken_at"`
}

// Collector polls a hub URL for the current batch of sensor readings.
// Implements collect.Collector.
type Collector struct {
	client *httpclient.Client
	log    *zap.SugaredLogger

	mu          sync.Mutex
	hubURL      string
	authToken   string
	polls       int64
	failures    int64
	readings    int64
	lastError   string
	lastErrorAt *time.Time
}

// New creates an unconfigured hub collector.
func New(log *zap.SugaredLogger) *Collector {
	return &Collector{
		client: httpclient.New(defaultRequestTimeout),
		log:    log.Named("iothub"),
	}
}

// Configure validates and applies the hub settings. Requires "hub_url".
func (c *Collector) Configure(cfg collect.CollectorConfig) error {
	raw := cfg.Settings["hub_url"]
	if raw == "" {
		return errors.WithHint(
			errors.New("iothub collector requires hub_url setting"),
			"set sources.iot.settings.hub_url in verdant.toml")
	}
	if err := httpclient.ValidateEndpoint(raw); err != nil {
		return errors.Wrapf(err, "invalid hub_url: %q", raw)
	}

	c.mu.Lock()
	c.hubURL = raw
	c.authToken = cfg.Settings["auth_token"]
	c.mu.Unlock()
	return nil
}

// Collect fetches the current readings from the hub.
func (c *Collector) Collect(ctx context.Context, cfg collect.CollectorConfig) (*collect.CollectionResult, error) {
	c.mu.Lock()
	hubURL := c.hubURL
	token := c.authToken
	c.mu.Unlock()
	if hubURL == "" {
		return nil, errors.New("iothub collector is not configured")
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hubURL, nil)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "build hub request"))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "poll hub"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(errors.Newf("hub returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "read hub response"))
	}

	var readings []Reading
	if err := json.Unmarshal(body, &readings); err != nil {
		return nil, c.fail(errors.Wrap(err, "decode hub readings"))
	}

	payload, err := json.Marshal(readings)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "encode readings payload"))
	}

	now := time.Now()
	quality := collect.Quality(
		freshness(readings, now, cfg.Frequency),
		completeness(readings),
		validity(readings),
	)

	c.mu.Lock()
	c.polls++
	c.readings += int64(len(readings))
	c.mu.Unlock()

	return &collect.CollectionResult{
		SourceID:     hubSourceID(hubURL),
		SourceType:   collect.SourceIoT,
		Timestamp:    now,
		PayloadKind:  collect.PayloadKindSensorReadings,
		Payload:      payload,
		QualityScore: quality,
		Metadata: collect.ResultMetadata{
			SizeBytes: int64(len(payload)),
			Duration:  time.Since(start),
		},
	}, nil
}

// freshness scores how recent the newest reading is relative to the poll
// frequency. A batch as old as two poll intervals scores 0.
func freshness(readings []Reading, now time.Time, frequency time.Duration) float64 {
	if len(readings) == 0 {
		return 0
	}
	if frequency <= 0 {
		frequency = 5 * time.Minute
	}
	newest := readings[0].TakenAt
	for _, r := range readings[1:] {
		if r.TakenAt.After(newest) {
			newest = r.TakenAt
		}
	}
	age := now.Sub(newest)
	if age <= 0 {
		return 1
	}
	return 1 - float64(age)/float64(2*frequency)
}

// completeness is the fraction of readings carrying a sensor id and kind.
func completeness(readings []Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	complete := 0
	for _, r := range readings {
		if r.SensorID != "" && r.Kind != "" && !r.TakenAt.IsZero() {
			complete++
		}
	}
	return float64(complete) / float64(len(readings))
}

// validity is the fraction of readings whose values are physically plausible
// for their kind. Unknown kinds count as valid.
func validity(readings []Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	valid := 0
	for _, r := range readings {
		if plausible(r) {
			valid++
		}
	}
	return float64(valid) / float64(len(readings))
}

func plausible(r Reading) bool {
	switch r.Kind {
	case "temperature":
		return r.Value >= -60 && r.Value <= 80
	case "humidity", "soil_moisture":
		return r.Value >= 0 && r.Value <= 100
	case "light":
		return r.Value >= 0
	default:
		return true
	}
}

func hubSourceID(hubURL string) string {
	if u, err := url.Parse(hubURL); err == nil && u.Host != "" {
		return u.Host
	}
	return hubURL
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

// IsHealthy reports whether the last poll succeeded.
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
		"polls":          c.polls,
		"failures":       c.failures,
		"readings_total": c.readings,
	}
}
