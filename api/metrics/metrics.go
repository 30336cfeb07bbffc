// Package metrics exposes Prometheus instrumentation for the query core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_cache_operations_total",
		Help: "Cache lookups by namespace and outcome (hit, miss, error).",
	}, []string{"namespace", "outcome"})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_llm_requests_total",
		Help: "Outbound LLM requests by outcome (ok, error, rejected).",
	}, []string{"outcome"})

	llmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sqlchat_llm_request_duration_seconds",
		Help:    "Duration of outbound LLM requests.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_llm_tokens_total",
		Help: "LLM token usage by direction (input, output).",
	}, []string{"direction"})

	sqlQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_sql_queries_total",
		Help: "SQL statements executed through the connector by outcome.",
	}, []string{"outcome"})

	sqlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sqlchat_sql_query_duration_seconds",
		Help:    "Duration of SQL statements executed through the connector.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_jobs_total",
		Help: "Job state transitions by pool and state.",
	}, []string{"pool", "state"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlchat_queue_depth",
		Help: "Current number of queued jobs per pool.",
	}, []string{"pool"})

	corrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlchat_sql_corrections_total",
		Help: "Correction loop outcomes (recovered, exhausted).",
	}, []string{"outcome"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sqlchat_llm_breaker_open",
		Help: "1 when the LLM circuit breaker is open, 0 otherwise.",
	})
)

// RecordCacheHit records a cache hit for a namespace.
func RecordCacheHit(namespace string) { cacheOps.WithLabelValues(namespace, "hit").Inc() }

// RecordCacheMiss records a cache miss for a namespace.
func RecordCacheMiss(namespace string) { cacheOps.WithLabelValues(namespace, "miss").Inc() }

// RecordCacheError records a cache backend failure (degraded to miss).
func RecordCacheError(namespace string) { cacheOps.WithLabelValues(namespace, "error").Inc() }

// RecordLLMRequest records one outbound LLM call.
func RecordLLMRequest(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmRequests.WithLabelValues(outcome).Inc()
	llmDuration.Observe(duration.Seconds())
}

// RecordLLMRejected records a call that was rejected before reaching the wire
// (open circuit or expired deadline while rate limited).
func RecordLLMRejected() { llmRequests.WithLabelValues("rejected").Inc() }

// RecordLLMTokens records token usage reported by the LLM endpoint.
func RecordLLMTokens(input, output int) {
	llmTokens.WithLabelValues("input").Add(float64(input))
	llmTokens.WithLabelValues("output").Add(float64(output))
}

// RecordSQLQuery records one statement executed through the connector.
func RecordSQLQuery(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sqlQueries.WithLabelValues(outcome).Inc()
	sqlDuration.Observe(duration.Seconds())
}

// RecordJobState records a job entering a dispatcher state.
func RecordJobState(pool, state string) { jobTransitions.WithLabelValues(pool, state).Inc() }

// SetQueueDepth publishes the current queue depth for a pool.
func SetQueueDepth(pool string, depth int) { queueDepth.WithLabelValues(pool).Set(float64(depth)) }

// RecordCorrection records a correction loop outcome.
func RecordCorrection(recovered bool) {
	if recovered {
		corrections.WithLabelValues("recovered").Inc()
	} else {
		corrections.WithLabelValues("exhausted").Inc()
	}
}

// SetBreakerOpen publishes the LLM circuit breaker state.
func SetBreakerOpen(open bool) {
	if open {
		breakerState.Set(1)
	} else {
		breakerState.Set(0)
	}
}
