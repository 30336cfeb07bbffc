// Package handlers is the HTTP boundary: job submission and polling, session
// management, visualization recommendation and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/agent/pkg/dispatch"
	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
)

// Pinger reports backend liveness for the health endpoint.
type Pinger func(ctx context.Context) error

// Visualizer is the one-shot chart recommendation boundary.
type Visualizer interface {
	RecommendVisualization(ctx context.Context, question, sql string, sample agent.Table) agent.Visualization
}

// Server bundles the handler dependencies.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Memory     *memory.Service
	Visualizer Visualizer
	// DisplaySQLInErrors gates operator detail (failing SQL, raw driver
	// text) in failure responses.
	DisplaySQLInErrors bool
	CachePing          Pinger
	DBPing             Pinger
	Log                *slog.Logger
}

// Router assembles the chi route tree.
func (s *Server) Router(corsOrigin string) http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(65 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{corsOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.SubmitQuery)
		r.Get("/query/{jobID}", s.PollQuery)
		r.Post("/query/{jobID}/cancel", s.CancelQuery)
		r.Post("/visualize", s.Visualize)
		r.Delete("/session/{sessionID}", s.ClearSession)
		r.Get("/session/{sessionID}/stats", s.SessionStats)
	})
	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform failure envelope.
type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Kind    agent.Kind `json:"kind"`
	Message string     `json:"message"`
}

// writeError maps an agent error kind onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := agent.KindInternal
	var ae *agent.Error
	if errors.As(err, &ae) {
		kind = ae.Kind
	}
	writeJSON(w, statusFor(kind), errorBody{Error: errorInfo{Kind: kind, Message: agent.UserMessage(kind)}})
}

func statusFor(kind agent.Kind) int {
	switch kind {
	case agent.KindInvalidInput:
		return http.StatusBadRequest
	case agent.KindUnknownJob:
		return http.StatusNotFound
	case agent.KindOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
