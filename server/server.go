// Package server exposes the orchestrator's status surface over HTTP and
// streams emitted events to websocket subscribers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/config"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/enrich/budget"
	"github.com/verdant-labs/verdant/errors"
)

// Orchestrator is the scheduler-side surface the server reads from.
type Orchestrator interface {
	Status() collect.Status
	Metrics() collect.Metrics
	Emitter() *collect.Emitter
}

// Queue exposes job queue activity.
type Queue interface {
	Stats() enrich.QueueStats
}

// EnrichmentStore loads persisted enrichment output.
type EnrichmentStore interface {
	GetEnrichment(ctx context.Context, jobID string) (*enrich.EnrichedData, error)
}

// Server serves the HTTP API and websocket event feed.
type Server struct {
	orch    Orchestrator
	queue   Queue
	store   EnrichmentStore
	budget  *budget.Tracker // optional
	cfg     config.ServerConfig
	log     *zap.SugaredLogger
	httpSrv *http.Server

	mu      sync.RWMutex
	clients map[*client]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. The queue, store, and budget tracker may be nil;
// their endpoints degrade gracefully.
func New(orch Orchestrator, queue Queue, store EnrichmentStore, tracker *budget.Tracker, cfg config.ServerConfig, log *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		orch:    orch,
		queue:   queue,
		store:   store,
		budget:  tracker,
		cfg:     cfg,
		log:     log.Named("server"),
		clients: make(map[*client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/enrichments/", s.handleGetEnrichment)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

// Start begins serving and returns once the listener is up or fails.
// The event broadcaster starts alongside the listener.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.ServerPort())
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startEventBroadcaster()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen on %s", addr)
	case <-time.After(100 * time.Millisecond):
	}

	s.log.Infow("Server listening", "addr", addr)
	return nil
}

// Shutdown stops the listener and closes every websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Infow("Server stopped")
	return err
}
