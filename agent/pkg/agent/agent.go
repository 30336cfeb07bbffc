// Package agent contains the question→SQL→answer pipeline: context loading,
// table selection, SQL generation and execution, LM-guided correction,
// summarization and follow-up suggestions. The pipeline is sequential within
// one job; all concurrency lives in the dispatcher.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/catalog"
	"github.com/landmarklabs/sqlchat/agent/pkg/db"
	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
)

// Gate is the cooperative cancellation check. The dispatcher installs one per
// job; the pipeline calls it at every stage boundary and before blocking I/O,
// unwinding with the returned error when the job's soft limit or a user
// cancellation has tripped.
type Gate func() error

// Config tunes one Agent.
type Config struct {
	GenerationTemperature float32
	SummaryTemperature    float32
	SuggestionTemperature float32
	HistoryWindow         int
	MaxCorrections        int
	QueryTimeout          time.Duration
	RowLimit              int
	AnswerCacheTTL        time.Duration
	SuggestionCacheTTL    time.Duration
	SampleRows            int
}

// DefaultConfig returns the stock pipeline tuning.
func DefaultConfig() Config {
	return Config{
		GenerationTemperature: 0,
		SummaryTemperature:    0.3,
		SuggestionTemperature: 0.5,
		HistoryWindow:         5,
		MaxCorrections:        3,
		QueryTimeout:          20 * time.Second,
		RowLimit:              100,
		AnswerCacheTTL:        5 * time.Minute,
		SuggestionCacheTTL:    5 * time.Minute,
		SampleRows:            10,
	}
}

// Agent composes the pipeline collaborators. It holds no per-job state; one
// Agent serves all workers.
type Agent struct {
	lm        llm.Client
	conn      db.Connector
	catalog   *catalog.Catalog
	mem       *memory.Service
	store     cache.Store
	corrector *Corrector
	cfg       Config
	log       *slog.Logger
}

// New wires an Agent.
func New(lm llm.Client, conn db.Connector, cat *catalog.Catalog, mem *memory.Service, store cache.Store, cfg Config, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		lm:        lm,
		conn:      conn,
		catalog:   cat,
		mem:       mem,
		store:     store,
		corrector: NewCorrector(lm, conn, cfg.MaxCorrections, cfg.QueryTimeout, cfg.RowLimit, log),
		cfg:       cfg,
		log:       log,
	}
}

// Answer runs the full pipeline for one question. gate may be nil. The
// returned error, if any, is always an *Error; raw failures never escape.
func (a *Agent) Answer(ctx context.Context, question, sessionID string, gate Gate) (Payload, error) {
	payload, err := a.answer(ctx, question, sessionID, gate)
	if err != nil {
		var ae *Error
		if !errors.As(err, &ae) {
			a.log.Error("agent: unclassified failure", "error", err)
			return Payload{}, WrapErr(KindInternal, err, "pipeline failed")
		}
		return Payload{}, ae
	}
	return payload, nil
}

func (a *Agent) answer(ctx context.Context, question, sessionID string, gate Gate) (Payload, error) {
	if gate == nil {
		gate = func() error { return nil }
	}

	// Stage 1: load conversation context.
	entries, err := a.mem.Recent(ctx, sessionID, a.cfg.HistoryWindow)
	if err != nil {
		a.log.Warn("agent: history unavailable, continuing without context", "error", err)
	}
	digest, err := a.mem.HistoryDigest(ctx, sessionID)
	if err != nil {
		digest = cache.Digest("")
	}

	// Stage 2: answer cache. A hit means this exact question was already
	// answered against the session's current history, so no append happens.
	if raw, ok, _ := a.store.Get(ctx, cache.NSAnswer, cache.AnswerKey(question, digest)); ok {
		var cached Payload
		if err := json.Unmarshal(raw, &cached); err == nil {
			a.log.Debug("agent: answer served from cache", "session_id", sessionID)
			_ = a.mem.Touch(ctx, sessionID)
			return cached, nil
		}
	}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 3: choose tables.
	known, err := a.catalog.Tables(ctx)
	if err != nil {
		return Payload{}, classifyDBError(err)
	}
	completion, err := a.lm.Complete(ctx, tableSelectSystem, tableSelectPrompt(question, entries, known), a.cfg.GenerationTemperature)
	if err != nil {
		return Payload{}, classifyLMError(err)
	}
	chosen := ParseTableList(completion, known)
	if len(chosen) == 0 {
		return Payload{}, Errf(KindNoRelevantTables, "no known table matches the question")
	}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 4: collect DDLs.
	ddlBundle, err := a.catalog.Bundle(ctx, chosen)
	if err != nil {
		return Payload{}, classifyDBError(err)
	}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 5: generate SQL.
	completion, err = a.lm.Complete(ctx, generateSystem, generatePrompt(question, entries, ddlBundle), a.cfg.GenerationTemperature)
	if err != nil {
		return Payload{}, classifyLMError(err)
	}
	sql := PostProcess(completion, a.cfg.RowLimit)
	if sql == "" {
		return Payload{}, Errf(KindSQLSynthesisFailed, "model produced no SQL statement")
	}
	if verb, bad := ReadOnlyViolation(sql); bad {
		return Payload{}, Errf(KindSQLExecutionFailed, "generated statement uses forbidden verb %s", verb)
	}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 6: execute, correcting on failure.
	correctionApplied := false
	result, execErr := a.conn.Execute(ctx, sql, a.cfg.QueryTimeout)
	if execErr != nil {
		if ctx.Err() != nil {
			return Payload{}, Transientf(KindTimeout, "query interrupted: %s", ctx.Err())
		}
		corrected, corrErr := a.corrector.Run(ctx, sql, dbErrMessage(execErr), question, ddlBundle)
		if corrErr != nil {
			return Payload{}, corrErr
		}
		sql, result = corrected.SQL, corrected.Result
		correctionApplied = true
	}
	table := Table{Columns: result.Columns, Rows: result.Rows}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 7: summarize.
	summary, err := a.lm.Complete(ctx, summarySystem, summaryPrompt(question, sql, table, a.cfg.SampleRows), a.cfg.SummaryTemperature)
	if err != nil {
		return Payload{}, classifyLMError(err)
	}
	if err := gate(); err != nil {
		return Payload{}, err
	}

	// Stage 8: follow-up suggestions.
	suggestions := a.Suggest(ctx, question, summary)

	payload := Payload{
		SQL:               sql,
		Summary:           summary,
		Table:             table,
		Suggestions:       suggestions,
		CorrectionApplied: correctionApplied,
	}

	// Stage 9: persist. A gate trip past this point no longer matters; the
	// answer is complete. The cache entry is keyed on the history digest as
	// it stands after the append, so re-asking the same question against the
	// now-updated conversation hits it.
	if err := a.mem.Append(ctx, sessionID, memory.Entry{Question: question, SQL: sql, Summary: summary}); err != nil {
		a.log.Warn("agent: failed to append session history", "session_id", sessionID, "error", err)
	}
	digest, err = a.mem.HistoryDigest(ctx, sessionID)
	if err == nil {
		if raw, err := json.Marshal(payload); err == nil {
			_ = a.store.Put(ctx, cache.NSAnswer, cache.AnswerKey(question, digest), raw, a.cfg.AnswerCacheTTL)
		}
	}
	return payload, nil
}

// classifyDBError maps connector failures onto the pipeline taxonomy.
func classifyDBError(err error) *Error {
	switch db.Classify(err) {
	case db.KindConnection:
		return &Error{Kind: KindInternal, Message: "database unreachable", Transient: true, cause: err}
	case db.KindTimeout:
		return &Error{Kind: KindTimeout, Message: "database query timed out", Transient: true, cause: err}
	default:
		return &Error{Kind: KindInternal, Message: "database request failed", cause: err}
	}
}
