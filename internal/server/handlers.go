package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"narrascope/internal/aggregate"
	"narrascope/internal/cluster"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListNarratives returns all narrative summaries. The sort query
// parameter selects ordering: "recency" (default) or "source_count".
func (s *Server) handleListNarratives(w http.ResponseWriter, r *http.Request) {
	key := aggregate.SortByRecency
	switch r.URL.Query().Get("sort") {
	case "", string(aggregate.SortByRecency):
	case string(aggregate.SortBySourceCount):
		key = aggregate.SortBySourceCount
	default:
		s.writeError(w, http.StatusBadRequest, "sort must be 'recency' or 'source_count'")
		return
	}

	s.writeJSON(w, http.StatusOK, s.agg.ListClusters(key))
}

func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "narrativeID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "narrative id must be an integer")
		return
	}

	detail, err := s.agg.GetCluster(id)
	if err != nil {
		if errors.Is(err, cluster.ErrClusterNotFound) {
			s.writeError(w, http.StatusNotFound, "narrative not found")
			return
		}
		s.log.Error("failed to load narrative", "id", id, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.agg.Graph())
}

// handleRefresh kicks off a background pipeline run. Returns 202 when a run
// was started, 409 when one is already in flight.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	// Detached from the request context: the run outlives the response.
	if !s.pipe.TryRun(context.Background()) {
		s.writeError(w, http.StatusConflict, "a refresh is already running")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"detail": "refresh started"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
