package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
)

// ClearSession drops a session's conversation history.
func (s *Server) ClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Memory.Clear(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorInfo{
			Kind:    agent.KindInternal,
			Message: internalError("Failed to clear session", err),
		}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "state": "cleared"})
}

// SessionStats returns session metadata.
func (s *Server) SessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	stats, ok := s.Memory.Stats(r.Context(), sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorInfo{
			Kind:    agent.KindUnknownJob,
			Message: "session not found or expired",
		}})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
