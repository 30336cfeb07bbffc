package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
	"github.com/landmarklabs/sqlchat/api/metrics"
)

// CoordinatorConfig tunes the per-process LM coordinator.
type CoordinatorConfig struct {
	Model            string
	RequestsPerMin   int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	CallTimeout      time.Duration
	CacheEnabled     bool
	CacheTTL         time.Duration
	RetryBase        time.Duration
	RetryCap         time.Duration
	MaxAttempts      int
}

// DefaultCoordinatorConfig returns the stock tuning for model.
func DefaultCoordinatorConfig(model string) CoordinatorConfig {
	return CoordinatorConfig{
		Model:            model,
		RequestsPerMin:   60,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		CallTimeout:      15 * time.Second,
		CacheEnabled:     true,
		CacheTTL:         5 * time.Minute,
		RetryBase:        500 * time.Millisecond,
		RetryCap:         8 * time.Second,
		MaxAttempts:      3,
	}
}

// Coordinator is the single process-wide LM client: it owns the token bucket
// and the circuit breaker, retries transient failures, and serves
// deterministic completions from the cache. All pipeline stages share one
// Coordinator through dependency injection.
type Coordinator struct {
	transport Completer
	limiter   *rate.Limiter
	breaker   *Breaker
	store     cache.Store
	cfg       CoordinatorConfig
	clock     clockwork.Clock
	log       *slog.Logger
}

// NewCoordinator wires a Coordinator around a transport. store may be nil to
// disable response caching regardless of config.
func NewCoordinator(transport Completer, store cache.Store, cfg CoordinatorConfig, clock clockwork.Clock, log *slog.Logger) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 60
	}
	return &Coordinator{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		breaker:   NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clock),
		store:     store,
		cfg:       cfg,
		clock:     clock,
		log:       log,
	}
}

// Breaker exposes circuit state for the health endpoint.
func (c *Coordinator) Breaker() *Breaker { return c.breaker }

func (c *Coordinator) cacheable(temperature float32) bool {
	return c.cfg.CacheEnabled && c.store != nil && temperature == 0
}

// Complete runs one completion through cache, breaker, rate limiter and the
// retry policy, in that order.
func (c *Coordinator) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	key := cache.LMResponseKey(system, user, temperature, c.cfg.Model)
	if c.cacheable(temperature) {
		if raw, ok, _ := c.store.Get(ctx, cache.NSLMResponse, key); ok {
			return string(raw), nil
		}
	}

	if err := c.breaker.Allow(); err != nil {
		metrics.RecordLLMRejected()
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.CancelProbe()
		metrics.RecordLLMRejected()
		return "", fmt.Errorf("llm: rate limiter: %w", err)
	}

	text, err := c.completeWithRetry(ctx, system, user, temperature)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller went away; that says nothing about endpoint health.
			c.breaker.CancelProbe()
		} else {
			c.breaker.RecordFailure()
		}
		return "", err
	}
	c.breaker.RecordSuccess()

	if c.cacheable(temperature) {
		_ = c.store.Put(ctx, cache.NSLMResponse, key, []byte(text), c.cfg.CacheTTL)
	}
	return text, nil
}

// CompleteJSON completes and decodes the first JSON value in the response.
// Parse failures do not retry the completion.
func (c *Coordinator) CompleteJSON(ctx context.Context, system, user string, temperature float32, out any) error {
	text, err := c.Complete(ctx, system, user, temperature)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}

func (c *Coordinator) completeWithRetry(ctx context.Context, system, user string, temperature float32) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBase
	bo.MaxInterval = c.cfg.RetryCap
	bo.MaxElapsedTime = 0

	attempts := uint64(c.cfg.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}

	var text string
	op := func() error {
		start := c.clock.Now()
		resp, err := c.transport.Complete(ctx, system, user, temperature)
		metrics.RecordLLMRequest(c.clock.Since(start), err)
		if err != nil {
			if !transient(err) {
				return backoff.Permanent(err)
			}
			c.log.Warn("llm: transient failure, will retry", "error", err)
			return err
		}
		metrics.RecordLLMTokens(resp.InputTokens, resp.OutputTokens)
		text = resp.Text
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
	if err != nil {
		return "", fmt.Errorf("llm: completion failed: %w", err)
	}
	return text, nil
}

// transient reports whether err is worth retrying: network trouble, 5xx and
// 429 responses, and deadline expiry on the wire. Other 4xx and parse-level
// failures are permanent.
func transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= http.StatusInternalServerError ||
			apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= http.StatusInternalServerError ||
			reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
