package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/agent/pkg/dispatch"
	"github.com/landmarklabs/sqlchat/agent/pkg/memory"
)

type instantRunner struct {
	payload agent.Payload
	err     error
}

func (r *instantRunner) Answer(context.Context, string, string, agent.Gate) (agent.Payload, error) {
	return r.payload, r.err
}

type stubVisualizer struct{ viz agent.Visualization }

func (v *stubVisualizer) RecommendVisualization(context.Context, string, string, agent.Table) agent.Visualization {
	return v.viz
}

func newTestServer(t *testing.T, runner dispatch.Runner) (*Server, *memory.Service) {
	t.Helper()
	store := cache.NewMemoryStore()
	results := dispatch.NewResultStore(store, time.Hour)
	cfg := dispatch.Config{
		Pools:          []dispatch.PoolConfig{{Name: dispatch.PoolStandard, Workers: 2, QueueSize: 8, SoftLimit: time.Second, HardLimit: 2 * time.Second}},
		MaxRetries:     0,
		MaxQuestionLen: 4096,
		RetryBase:      time.Millisecond,
	}
	d := dispatch.New(runner, results, nil, cfg, nil, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)

	mem := memory.New(store, 10, time.Hour, nil, nil)
	return &Server{
		Dispatcher: d,
		Memory:     mem,
		Visualizer: &stubVisualizer{viz: agent.Visualization{Kind: agent.VizBar, Reason: "categorical"}},
		CachePing:  func(context.Context) error { return nil },
		DBPing:     func(context.Context) error { return nil },
	}, mem
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSubmitPollLifecycle(t *testing.T) {
	t.Parallel()

	runner := &instantRunner{payload: agent.Payload{SQL: "SELECT 1", Summary: "one"}}
	s, _ := newTestServer(t, runner)
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodPost, "/api/query", SubmitRequest{Question: "How many users?", SessionID: "s1"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.JobID)

	var poll PollResponse
	require.Eventually(t, func() bool {
		rr := doJSON(t, h, http.MethodGet, "/api/query/"+sub.JobID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &poll))
		return poll.State == string(dispatch.StateSucceeded)
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, poll.Payload)
	assert.Equal(t, "SELECT 1", poll.Payload.SQL)
	assert.Nil(t, poll.Error)
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &instantRunner{})
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodPost, "/api/query", SubmitRequest{Question: "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, agent.KindInvalidInput, body.Error.Kind)
}

func TestPollUnknownJobIs404(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &instantRunner{})
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodGet, "/api/query/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFailedJobDetailSuppressedByDefault(t *testing.T) {
	t.Parallel()

	runner := &instantRunner{err: agent.WrapErr(agent.KindSQLExecutionFailed,
		errors.New(`column "revnue" does not exist`), "query kept failing")}
	s, _ := newTestServer(t, runner)
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodPost, "/api/query", SubmitRequest{Question: "q"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))

	var poll PollResponse
	require.Eventually(t, func() bool {
		rr := doJSON(t, h, http.MethodGet, "/api/query/"+sub.JobID, nil)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &poll))
		return poll.State == string(dispatch.StateFailed)
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, poll.Error)
	assert.Equal(t, agent.KindSQLExecutionFailed, poll.Error.Kind)
	assert.Empty(t, poll.Detail, "operator detail is off unless configured")
}

func TestSessionStatsAndClear(t *testing.T) {
	t.Parallel()

	s, mem := newTestServer(t, &instantRunner{})
	h := s.Router("*")
	ctx := context.Background()

	require.NoError(t, mem.Append(ctx, "s9", memory.Entry{Question: "q", SQL: "SELECT 1", Summary: "one"}))

	rr := doJSON(t, h, http.MethodGet, "/api/session/s9/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats memory.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.QueryCount)

	rr = doJSON(t, h, http.MethodDelete, "/api/session/s9", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/session/s9/stats", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVisualizeEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &instantRunner{})
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodPost, "/api/visualize", VisualizeRequest{
		Question: "sales by region",
		SQL:      "SELECT region, sum(total) FROM orders GROUP BY region",
		Columns:  []string{"region", "total"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var viz agent.Visualization
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &viz))
	assert.Equal(t, agent.VizBar, viz.Kind)

	rr = doJSON(t, h, http.MethodPost, "/api/visualize", VisualizeRequest{Question: "q"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &viz))
	assert.Equal(t, agent.VizNone, viz.Kind, "no columns degrades to none")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &instantRunner{})
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Checks["cache"])
	assert.True(t, health.Checks["database"])
}

func TestHealthDegradedWhenCacheDown(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &instantRunner{})
	s.CachePing = func(context.Context) error { return errors.New("connection refused") }
	h := s.Router("*")

	rr := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
}
