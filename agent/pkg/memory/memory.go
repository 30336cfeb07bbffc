// Package memory holds per-session conversation state: the rolling history of
// question/SQL/summary triples plus session metadata. State is one JSON
// document per session in the cache layer, so losing the backend loses
// history but never correctness.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
)

// Entry is one completed interaction in a session.
type Entry struct {
	Question string    `json:"question"`
	SQL      string    `json:"sql"`
	Summary  string    `json:"summary"`
	At       time.Time `json:"at"`
}

// Stats is the session metadata surfaced at the HTTP boundary.
type Stats struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	QueryCount   int       `json:"query_count"`
	HistorySize  int       `json:"history_size"`
}

type sessionDoc struct {
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	QueryCount   int       `json:"query_count"`
	History      []Entry   `json:"history"`
}

// Service manages session documents. Each interaction has a single writer (the
// worker running the job), so read-modify-write without a lock is safe.
type Service struct {
	store        cache.Store
	clock        clockwork.Clock
	log          *slog.Logger
	historyLimit int
	sessionTTL   time.Duration
}

// New creates a Service. historyLimit caps the retained entries per session;
// sessionTTL is refreshed on every access.
func New(store cache.Store, historyLimit int, sessionTTL time.Duration, clock clockwork.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:        store,
		clock:        clock,
		log:          log,
		historyLimit: historyLimit,
		sessionTTL:   sessionTTL,
	}
}

func (s *Service) load(ctx context.Context, sessionID string) (sessionDoc, bool) {
	raw, ok, err := s.store.Get(ctx, cache.NSSession, sessionID)
	if err != nil || !ok {
		return sessionDoc{}, false
	}
	var doc sessionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("memory: discarding unreadable session document", "session_id", sessionID, "error", err)
		return sessionDoc{}, false
	}
	return doc, true
}

func (s *Service) save(ctx context.Context, sessionID string, doc sessionDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session document: %w", err)
	}
	return s.store.Put(ctx, cache.NSSession, sessionID, raw, s.sessionTTL)
}

// Append records a completed interaction, trimming history to the limit and
// refreshing the session TTL.
func (s *Service) Append(ctx context.Context, sessionID string, e Entry) error {
	now := s.clock.Now().UTC()
	doc, ok := s.load(ctx, sessionID)
	if !ok {
		doc = sessionDoc{CreatedAt: now}
	}
	if e.At.IsZero() {
		e.At = now
	}
	doc.History = append(doc.History, e)
	if over := len(doc.History) - s.historyLimit; over > 0 {
		doc.History = doc.History[over:]
	}
	doc.QueryCount++
	doc.LastActivity = now
	return s.save(ctx, sessionID, doc)
}

// Recent returns up to k most recent entries, oldest first.
func (s *Service) Recent(ctx context.Context, sessionID string, k int) ([]Entry, error) {
	doc, ok := s.load(ctx, sessionID)
	if !ok {
		return nil, nil
	}
	hist := doc.History
	if k > 0 && len(hist) > k {
		hist = hist[len(hist)-k:]
	}
	return append([]Entry(nil), hist...), nil
}

// HistoryDigest returns a stable digest of the session's current history,
// used to scope answer cache entries to the conversation context.
func (s *Service) HistoryDigest(ctx context.Context, sessionID string) (string, error) {
	doc, ok := s.load(ctx, sessionID)
	if !ok || len(doc.History) == 0 {
		return cache.Digest(""), nil
	}
	var b strings.Builder
	for _, e := range doc.History {
		b.WriteString(e.Question)
		b.WriteByte(0)
		b.WriteString(e.SQL)
		b.WriteByte(0)
	}
	return cache.Digest(b.String()), nil
}

// Touch refreshes the session TTL and last-activity time without recording an
// interaction.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	doc, ok := s.load(ctx, sessionID)
	if !ok {
		return nil
	}
	doc.LastActivity = s.clock.Now().UTC()
	return s.save(ctx, sessionID, doc)
}

// Stats returns session metadata, or ok=false for an unknown session.
func (s *Service) Stats(ctx context.Context, sessionID string) (Stats, bool) {
	doc, ok := s.load(ctx, sessionID)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		SessionID:    sessionID,
		CreatedAt:    doc.CreatedAt,
		LastActivity: doc.LastActivity,
		QueryCount:   doc.QueryCount,
		HistorySize:  len(doc.History),
	}, true
}

// Clear removes the session document entirely.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.Invalidate(ctx, cache.NSSession, sessionID)
}
