package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/agent/pkg/dispatch"
)

// SubmitRequest is the submission body.
type SubmitRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// SubmitResponse acknowledges an enqueued job.
type SubmitResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// PollResponse is the polling envelope.
type PollResponse struct {
	JobID   string         `json:"job_id"`
	State   string         `json:"state"`
	Payload *agent.Payload `json:"payload,omitempty"`
	Error   *errorInfo     `json:"error,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// SubmitQuery enqueues a question and returns the job id immediately.
func (s *Server) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, agent.Errf(agent.KindInvalidInput, "malformed request body"))
		return
	}

	jobID, err := s.Dispatcher.Submit(r.Context(), req.Question, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID, State: string(dispatch.StateQueued)})
}

// PollQuery returns the current state of a job.
func (s *Server) PollQuery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Dispatcher.Poll(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := PollResponse{JobID: rec.JobID, State: string(rec.State)}
	switch rec.State {
	case dispatch.StateSucceeded:
		resp.Payload = rec.Payload
	case dispatch.StateFailed:
		resp.Error = &errorInfo{Kind: rec.ErrorKind, Message: rec.ErrorMessage}
		if s.DisplaySQLInErrors && rec.Detail != "" {
			resp.Detail = sanitizeDetail(rec.Detail)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelQuery requests cooperative cancellation of a job.
func (s *Server) CancelQuery(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.Dispatcher.Cancel(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "state": "cancelling"})
}
