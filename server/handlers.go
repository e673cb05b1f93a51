package server

import (
	"net/http"
	"strings"

	"github.com/verdant-labs/verdant/collect"
	"github.com/verdant-labs/verdant/enrich"
	"github.com/verdant-labs/verdant/enrich/budget"
	"github.com/verdant-labs/verdant/errors"
)

// statusResponse is the /api/status payload.
type statusResponse struct {
	collect.Status
	Queue *enrich.QueueStats `json:"queue,omitempty"`
}

// metricsResponse is the /api/metrics payload.
type metricsResponse struct {
	Collection collect.Metrics    `json:"collection"`
	Queue      *enrich.QueueStats `json:"queue,omitempty"`
	Budget     *budget.Status     `json:"budget,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := statusResponse{Status: s.orch.Status()}
	if s.queue != nil {
		stats := s.queue.Stats()
		resp.Queue = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := metricsResponse{Collection: s.orch.Metrics()}
	if s.queue != nil {
		stats := s.queue.Stats()
		resp.Queue = &stats
	}
	if s.budget != nil {
		status := s.budget.GetStatus()
		resp.Budget = &status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEnrichment(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment storage not configured")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/enrichments/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	data, err := s.store.GetEnrichment(r.Context(), jobID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "enrichment not found: "+jobID)
			return
		}
		s.log.Errorw("Failed to load enrichment", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.Wrap(err, "load enrichment").Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}
