package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/errors"
	"github.com/verdant-labs/verdant/logger"
)

// fakeOrchestrator returns canned status and metrics around a live emitter.
type fakeOrchestrator struct {
	emitter *collect.Emitter
}

func (f *fakeOrchestrator) Status() collect.Status {
	return collect.Status{
		IsRunning:        true,
		ActiveCollectors: []collect.SourceType{collect.SourceIoT},
		CollectionsToday: 12,
		Health: collect.HealthRollup{
			Overall: collect.HealthHealthy,
		},
	}
}

func (f *fakeOrchestrator) Metrics() collect.Metrics {
	return collect.Metrics{TotalCollections: 20, SuccessfulCollections: 18, FailedCollections: 2}
}

func (f *fakeOrchestrator) Emitter() *collect.Emitter { return f.emitter }

type fakeQueue struct{ stats enrich.QueueStats }

func (f *fakeQueue) Stats() enrich.QueueStats { return f.stats }

type fakeEnrichmentStore struct {
	data map[string]*enrich.EnrichedData
}

func (f *fakeEnrichmentStore) GetEnrichment(ctx context.Context, jobID string) (*enrich.EnrichedData, error) {
	if d, ok := f.data[jobID]; ok {
		return d, nil
	}
	return nil, errors.Newf("enrichment %s: not found", jobID)
}

func newTestServer() *Server {
	orch := &fakeOrchestrator{emitter: collect.NewEmitter()}
	queue := &fakeQueue{stats: enrich.QueueStats{Queued: 1, Active: 2, Completed: 3}}
	store := &fakeEnrichmentStore{data: map[string]*enrich.EnrichedData{
		"EJ_iot_abc": {DataType: "iot.readings/v1", OverallConfidence: 0.8},
	}}
	return New(orch, queue, store, nil, config.ServerConfig{}, logger.Logger)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.IsRunning)
	assert.Equal(t, int64(12), got.CollectionsToday)
	require.NotNil(t, got.Queue)
	assert.Equal(t, 2, got.Queue.Active)
}

func TestStatusRejectsPost(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got metricsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(20), got.Collection.TotalCollections)
	require.NotNil(t, got.Queue)
	assert.Equal(t, int64(3), got.Queue.Completed)
}

func TestGetEnrichment(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/enrichments/EJ_iot_abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got enrich.EnrichedData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "iot.readings/v1", got.DataType)
}

func TestGetEnrichmentNotFound(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/enrichments/EJ_missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetEnrichmentInvalidID(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/enrichments/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsWebsocketFeed(t *testing.T) {
	s := newTestServer()
	s.startEventBroadcaster()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()
	defer s.Shutdown(context.Background())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the client.
	time.Sleep(50 * time.Millisecond)
	s.orch.Emitter().Publish(collect.CollectionCompleted{
		SourceType: collect.SourceIoT,
		Quality:    0.9,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "collection_completed", env.Type)

	var ev collect.CollectionCompleted
	require.NoError(t, json.Unmarshal(env.Event, &ev))
	assert.Equal(t, collect.SourceIoT, ev.SourceType)
	assert.InDelta(t, 0.9, ev.Quality, 0.001)
}

func TestSlowWebsocketClientDoesNotBlockBroadcast(t *testing.T) {
	s := newTestServer()
	s.startEventBroadcaster()
	ts := httptest.NewServer(s.routes())
	defer ts.Close()
	defer s.Shutdown(context.Background())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	// Never read from the connection; flood well past the client buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.orch.Emitter().Publish(collect.CollectionStarted{SourceType: collect.SourceIoT})
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestWebsocketRejectsDisallowedOrigin(t *testing.T) {
	orch := &fakeOrchestrator{emitter: collect.NewEmitter()}
	s := New(orch, nil, nil, nil, config.ServerConfig{AllowedOrigins: []string{"https://garden.example"}}, logger.Logger)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
