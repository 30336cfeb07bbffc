package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse reports backend reachability and queue depth.
type HealthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
	Queues map[string]int  `json:"queues"`
}

// Health probes the cache and database backends. The service reports
// degraded rather than down when only the cache is unreachable; the core
// runs cache-less, just slower.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{}
	if s.CachePing != nil {
		checks["cache"] = s.CachePing(ctx) == nil
	}
	if s.DBPing != nil {
		checks["database"] = s.DBPing(ctx) == nil
	}

	status := "ok"
	code := http.StatusOK
	if db, probed := checks["database"]; probed && !db {
		status = "down"
		code = http.StatusServiceUnavailable
	} else if c, probed := checks["cache"]; probed && !c {
		status = "degraded"
	}

	writeJSON(w, code, HealthResponse{
		Status: status,
		Checks: checks,
		Queues: s.Dispatcher.QueueDepths(),
	})
}
