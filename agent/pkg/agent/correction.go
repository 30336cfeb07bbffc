package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/landmarklabs/sqlchat/agent/pkg/db"
	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
	"github.com/landmarklabs/sqlchat/api/metrics"
)

// Corrector turns a failing SQL statement into a working one, or gives up
// after a bounded number of LM-guided attempts. Local rewrites (fences, row
// limits, ROUND casts) run between attempts and do not count against the
// budget.
type Corrector struct {
	lm          llm.Client
	conn        db.Connector
	log         *slog.Logger
	maxAttempts int
	queryTO     time.Duration
	rowLimit    int
	temperature float32
}

// NewCorrector creates a Corrector with the given attempt budget.
func NewCorrector(lm llm.Client, conn db.Connector, maxAttempts int, queryTimeout time.Duration, rowLimit int, log *slog.Logger) *Corrector {
	if log == nil {
		log = slog.Default()
	}
	return &Corrector{
		lm:          lm,
		conn:        conn,
		log:         log,
		maxAttempts: maxAttempts,
		queryTO:     queryTimeout,
		rowLimit:    rowLimit,
	}
}

// CorrectionResult is the terminal state of one correction run.
type CorrectionResult struct {
	SQL      string
	Result   db.Result
	Attempts int
}

// Run drives the analyze/execute loop starting from a statement that already
// failed with errMsg. It returns the corrected statement and its rows, or an
// Error once the budget is exhausted.
func (c *Corrector) Run(ctx context.Context, sql, errMsg, question, ddlBundle string) (CorrectionResult, error) {
	lastSQL, lastErr := sql, errMsg

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		completion, err := c.lm.Complete(ctx, correctionSystem, correctionPrompt(question, lastSQL, lastErr, ddlBundle), c.temperature)
		if err != nil {
			metrics.RecordCorrection(false)
			return CorrectionResult{}, classifyLMError(err)
		}

		candidate := PostProcess(completion, c.rowLimit)
		if candidate == "" {
			lastErr = "corrected statement was empty"
			continue
		}
		if verb, bad := ReadOnlyViolation(candidate); bad {
			lastErr = "statement uses forbidden verb " + verb
			lastSQL = candidate
			continue
		}

		res, execErr := c.conn.Execute(ctx, candidate, c.queryTO)
		if execErr == nil {
			c.log.Info("correction: recovered", "attempt", attempt)
			metrics.RecordCorrection(true)
			return CorrectionResult{SQL: candidate, Result: res, Attempts: attempt}, nil
		}
		if ctx.Err() != nil {
			metrics.RecordCorrection(false)
			return CorrectionResult{}, Transientf(KindTimeout, "correction interrupted: %s", ctx.Err())
		}

		lastSQL = candidate
		lastErr = dbErrMessage(execErr)
		c.log.Debug("correction: attempt failed", "attempt", attempt, "error", lastErr)
	}

	metrics.RecordCorrection(false)
	return CorrectionResult{SQL: lastSQL}, Errf(KindSQLExecutionFailed, "query still failing after %d corrections: %s", c.maxAttempts, lastErr)
}

func dbErrMessage(err error) string {
	var de *db.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// classifyLMError maps LM client failures onto the pipeline taxonomy.
func classifyLMError(err error) *Error {
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		// Circuit open: fail fast and let the caller back off. Re-enqueueing
		// would just trip the breaker again before it cools down.
		return &Error{Kind: KindLMUnavailable, Message: "language model circuit open", cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "language model call timed out", Transient: true, cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "cancelled", cause: err}
	default:
		return &Error{Kind: KindLMUnavailable, Message: "language model request failed", Transient: true, cause: err}
	}
}
