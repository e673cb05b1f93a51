package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/logger"
)

func f64(v float64) *float64 { return &v }

func feedServer(t *testing.T, snap Snapshot) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snap)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func feedConfig(url string) collect.CollectorConfig {
	return collect.CollectorConfig{
		Enabled:  true,
		Settings: map[string]string{"api_url": url},
	}
}

func TestConfigureRequiresAPIURL(t *testing.T) {
	c := New(logger.Logger)

	err := c.Configure(collect.CollectorConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}

func TestCollectFetchesSnapshot(t *testing.T) {
	srv := feedServer(t, Snapshot{
		StationID:    "station-7",
		TemperatureC: f64(18.5),
		HumidityPct:  f64(64),
		WindKph:      f64(12),
		PrecipMm:     f64(0.2),
		Condition:    "overcast",
		ObservedAt:   time.Now().Add(-10 * time.Minute),
	})

	c := New(logger.Logger)
	cfg := feedConfig(srv.URL)
	require.NoError(t, c.Configure(cfg))

	res, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, collect.SourceWeather, res.SourceType)
	assert.Equal(t, "station-7", res.SourceID)
	assert.Equal(t, collect.PayloadKindWeatherSnapshot, res.PayloadKind)
	// Recent, complete, plausible snapshot scores high.
	assert.Greater(t, res.QualityScore, 0.9)
}

func TestCollectStaleSnapshotScoresLower(t *testing.T) {
	fresh := Snapshot{
		StationID:    "station-7",
		TemperatureC: f64(18.5),
		HumidityPct:  f64(64),
		WindKph:      f64(12),
		PrecipMm:     f64(0.2),
		Condition:    "overcast",
	}
	stale := fresh
	fresh.ObservedAt = time.Now()
	stale.ObservedAt = time.Now().Add(-90 * time.Minute)

	c := New(logger.Logger)

	freshSrv := feedServer(t, fresh)
	cfg := feedConfig(freshSrv.URL)
	require.NoError(t, c.Configure(cfg))
	freshRes, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)

	staleSrv := feedServer(t, stale)
	cfg = feedConfig(staleSrv.URL)
	require.NoError(t, c.Configure(cfg))
	staleRes, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)

	assert.Less(t, staleRes.QualityScore, freshRes.QualityScore)
}

func TestCollectIncompleteSnapshotScoresLower(t *testing.T) {
	srv := feedServer(t, Snapshot{
		StationID:    "station-7",
		TemperatureC: f64(18.5),
		ObservedAt:   time.Now(),
	})

	c := New(logger.Logger)
	cfg := feedConfig(srv.URL)
	require.NoError(t, c.Configure(cfg))

	res, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	// Only 1 of 5 fields present.
	assert.Less(t, res.QualityScore, 0.8)
}

func TestCollectPassesStationQuery(t *testing.T) {
	var gotStation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStation = r.URL.Query().Get("station")
		json.NewEncoder(w).Encode(Snapshot{ObservedAt: time.Now()})
	}))
	t.Cleanup(srv.Close)

	c := New(logger.Logger)
	cfg := feedConfig(srv.URL)
	cfg.Settings["station_id"] = "station-7"
	require.NoError(t, c.Configure(cfg))

	_, err := c.Collect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "station-7", gotStation)
}

func TestCollectFeedErrorRecordsHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := New(logger.Logger)
	cfg := feedConfig(srv.URL)
	require.NoError(t, c.Configure(cfg))

	_, err := c.Collect(context.Background(), cfg)
	require.Error(t, err)

	health := c.HealthStatus()
	assert.False(t, health.Healthy)
	assert.Zero(t, health.SuccessRate)
}
