package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/catalog"
	"github.com/landmarklabs/sqlchat/agent/pkg/db"
	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
)

var usersSchema = map[string][]db.Column{
	"users": {
		{Name: "id", Type: "int"},
		{Name: "name", Type: "text"},
		{Name: "created_at", Type: "timestamp"},
	},
}

func newTestAgent(t *testing.T, stub *llm.Stub, fake *db.Fake, cfg Config) (*Agent, cache.Store) {
	t.Helper()
	store := cache.NewMemoryStore()
	cat := catalog.New(fake, store, time.Hour, nil)
	mem := memory.New(store, 10, 24*time.Hour, nil, nil)
	return New(stub, fake, cat, mem, store, cfg, nil), store
}

func TestAnswerHappyPathThenCacheHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(usersSchema)
	// Scalars as float64 so the payload is byte-stable through the JSON
	// round-trip the answer cache performs.
	fake.Script("count(*) from users", db.Result{Columns: []string{"count"}, Rows: [][]any{{float64(3)}}}, nil)

	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("SELECT COUNT(*) FROM users;").
		Respond("There are 3 users.").
		Respond(`["Top 5 recent users?", "Users per month?"]`)

	a, _ := newTestAgent(t, stub, fake, DefaultConfig())

	payload, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM users LIMIT 100", payload.SQL)
	assert.Equal(t, "There are 3 users.", payload.Summary)
	assert.Equal(t, []string{"count"}, payload.Table.Columns)
	assert.Len(t, payload.Suggestions, 2)
	assert.False(t, payload.CorrectionApplied)
	require.Equal(t, 4, stub.CallCount())

	// Same question again in the same session: served from the answer cache,
	// zero LM calls, byte-equal payload.
	again, err := a.Answer(ctx, "how many   USERS?", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Equal(t, 4, stub.CallCount(), "cache hit must not call the model")
	assert.Len(t, fake.Calls(), 1, "cache hit must not touch the database")
}

func TestAnswerCorrectionRecoversOnSecondStatement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(usersSchema)
	fake.Script("from users", db.Result{Columns: []string{"count"}, Rows: [][]any{{int64(3)}}}, nil)
	// "FROM user" (singular) is not scripted and fails with a syntax error.

	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("SELECT COUNT(*) FROM user;").
		Respond("SELECT COUNT(*) FROM users;"). // correction attempt 1
		Respond("There are 3 users.").
		Respond(`[]`)

	a, _ := newTestAgent(t, stub, fake, DefaultConfig())

	payload, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.NoError(t, err)
	assert.True(t, payload.CorrectionApplied)
	assert.Equal(t, "SELECT COUNT(*) FROM users LIMIT 100", payload.SQL)
}

func TestCorrectionNeverExecutesWriteCandidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(usersSchema)
	fake.Script("from users", db.Result{Columns: []string{"count"}, Rows: [][]any{{int64(3)}}}, nil)

	// The first corrected candidate is a write statement: it must be fed back
	// as the next attempt's error without ever touching the database.
	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("SELECT COUNT(*) FROM user;").
		Respond("DELETE FROM users;").
		Respond("SELECT COUNT(*) FROM users;").
		Respond("There are 3 users.").
		Respond(`[]`)

	a, _ := newTestAgent(t, stub, fake, DefaultConfig())

	payload, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.NoError(t, err)
	assert.True(t, payload.CorrectionApplied)
	assert.Equal(t, "SELECT COUNT(*) FROM users LIMIT 100", payload.SQL)
	require.Len(t, fake.Calls(), 2, "only the failing and the recovered SELECT reach the database")
	for _, call := range fake.Calls() {
		assert.NotContains(t, call, "DELETE")
	}
}

func TestAnswerCorrectionExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(usersSchema) // nothing scripted: every statement fails

	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("SELECT COUNT(*) FROM user;").
		Respond("SELECT COUNT(*) FROM usr;").
		Respond("SELECT COUNT(*) FROM uzers;").
		Respond("SELECT COUNT(*) FROM userz;")

	a, _ := newTestAgent(t, stub, fake, DefaultConfig())

	_, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, KindSQLExecutionFailed, KindOf(err))
	assert.Equal(t, 5, stub.CallCount(), "exactly three correction calls after generation")
}

func TestAnswerZeroCorrectionBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := db.NewFake(usersSchema)

	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("SELECT COUNT(*) FROM user;")

	cfg := DefaultConfig()
	cfg.MaxCorrections = 0
	a, _ := newTestAgent(t, stub, fake, cfg)

	_, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, KindSQLExecutionFailed, KindOf(err))
	assert.Equal(t, 2, stub.CallCount(), "no correction call with a zero budget")
}

func TestAnswerNoRelevantTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stub := llm.NewStub().Respond(`[]`)
	a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())

	_, err := a.Answer(ctx, "What's the weather like?", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, KindNoRelevantTables, KindOf(err))
}

func TestAnswerRejectsWriteStatements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stub := llm.NewStub().
		Respond(`["users"]`).
		Respond("DELETE FROM users;")
	fake := db.NewFake(usersSchema)
	a, _ := newTestAgent(t, stub, fake, DefaultConfig())

	_, err := a.Answer(ctx, "Remove all users", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, KindSQLExecutionFailed, KindOf(err))
	assert.Empty(t, fake.Calls(), "write statements never reach the connector")
}

func TestAnswerGateStopsPipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stub := llm.NewStub().Respond(`["users"]`)
	fake := db.NewFake(usersSchema)
	a, store := newTestAgent(t, stub, fake, DefaultConfig())

	calls := 0
	gate := func() error {
		calls++
		if calls > 1 {
			return Errf(KindTimeout, "soft limit tripped")
		}
		return nil
	}

	_, err := a.Answer(ctx, "How many users?", "s1", gate)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))

	// No partial persistence: session history and answer cache stay empty.
	mem := memory.New(store, 10, 24*time.Hour, nil, nil)
	entries, err := mem.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnswerLMUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stub := llm.NewStub().FailAlways(llm.ErrUnavailable)
	a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())

	_, err := a.Answer(ctx, "How many users?", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, KindLMUnavailable, KindOf(err))
	assert.False(t, IsTransient(err), "an open circuit fails fast instead of re-enqueueing")
}

func TestSuggestDegradesToEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stub := llm.NewStub().FailAlways(llm.ErrUnavailable)
	a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())

	assert.Empty(t, a.Suggest(ctx, "q", "summary"))
}

func TestRecommendVisualizationDegradesToNone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	table := Table{Columns: []string{"region", "total"}, Rows: [][]any{{"EU", 10}}}

	t.Run("valid recommendation", func(t *testing.T) {
		t.Parallel()
		stub := llm.NewStub().Respond(`{"kind": "bar", "reason": "categorical totals"}`)
		a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())
		viz := a.RecommendVisualization(ctx, "sales by region", "SELECT ...", table)
		assert.Equal(t, VizBar, viz.Kind)
	})

	t.Run("lm down", func(t *testing.T) {
		t.Parallel()
		stub := llm.NewStub().FailAlways(llm.ErrUnavailable)
		a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())
		viz := a.RecommendVisualization(ctx, "q", "SELECT 1", table)
		assert.Equal(t, VizNone, viz.Kind)
	})

	t.Run("invalid kind", func(t *testing.T) {
		t.Parallel()
		stub := llm.NewStub().Respond(`{"kind": "hologram", "reason": "why not"}`)
		a, _ := newTestAgent(t, stub, db.NewFake(usersSchema), DefaultConfig())
		viz := a.RecommendVisualization(ctx, "q", "SELECT 1", table)
		assert.Equal(t, VizNone, viz.Kind)
	})
}
