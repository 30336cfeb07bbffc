package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
)

// State is the job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Record is the persisted view of one job, readable while the job is still
// running. Exactly one state at a time; terminal records are never rewritten.
type Record struct {
	JobID        string         `json:"job_id"`
	State        State          `json:"state"`
	Pool         string         `json:"pool"`
	SessionID    string         `json:"session_id,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	FinishedAt   time.Time      `json:"finished_at,omitzero"`
	Attempt      int            `json:"attempt,omitempty"`
	Payload      *agent.Payload `json:"payload,omitempty"`
	ErrorKind    agent.Kind     `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	// Detail carries operator-facing context (the failing SQL, the raw
	// error); suppressed by config at the HTTP boundary.
	Detail string `json:"detail,omitempty"`
}

// ResultStore is the job-result facade over the cache layer. Non-terminal
// records get a generous safety TTL; terminal records live for terminalTTL
// counted from entering the terminal state.
type ResultStore struct {
	store       cache.Store
	terminalTTL time.Duration
}

const pendingTTL = 24 * time.Hour

// NewResultStore creates a ResultStore with the given terminal TTL.
func NewResultStore(store cache.Store, terminalTTL time.Duration) *ResultStore {
	return &ResultStore{store: store, terminalTTL: terminalTTL}
}

// Put persists rec, picking the TTL from its state.
func (r *ResultStore) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode result record: %w", err)
	}
	ttl := pendingTTL
	if rec.State.Terminal() {
		ttl = r.terminalTTL
	}
	return r.store.Put(ctx, cache.NSResult, rec.JobID, raw, ttl)
}

// Get returns the record for jobID, or ok=false when it expired or never
// existed.
func (r *ResultStore) Get(ctx context.Context, jobID string) (Record, bool, error) {
	raw, ok, err := r.store.Get(ctx, cache.NSResult, jobID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode result record: %w", err)
	}
	return rec, true, nil
}
