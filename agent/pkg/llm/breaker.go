package llm

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/landmarklabs/sqlchat/api/metrics"
)

// ErrUnavailable is returned without touching the wire while the circuit is
// open or a half-open probe is already in flight.
var ErrUnavailable = errors.New("llm: endpoint unavailable (circuit open)")

// BreakerState is the circuit state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a three-state circuit breaker. After threshold consecutive
// failures it opens; after the cooldown it permits exactly one probe, whose
// outcome decides between closing and reopening.
type Breaker struct {
	clock     clockwork.Clock
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed Breaker.
func NewBreaker(threshold int, cooldown time.Duration, clock clockwork.Clock) *Breaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		clock:     clock,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
	}
}

// Allow reports whether a call may proceed. In half-open state only one probe
// is admitted at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return ErrUnavailable
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return ErrUnavailable
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess notes a successful call, closing the circuit if a probe
// succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.state = StateClosed
		metrics.SetBreakerOpen(false)
	}
}

// CancelProbe releases an admitted call's probe slot without recording an
// outcome, for calls that never reached the endpoint (rate-limiter
// interruption, caller cancellation). The consecutive-failure count is left
// alone.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// RecordFailure notes a failed call, opening the circuit on the threshold or
// on a failed probe.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.reopen()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.reopen()
		}
	}
}

func (b *Breaker) reopen() {
	b.state = StateOpen
	b.openedAt = b.clock.Now()
	b.failures = 0
	b.probing = false
	metrics.SetBreakerOpen(true)
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
