package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stub is a deterministic scripted Client for tests. Responses are consumed
// in registration order; an exhausted script fails loudly so a test never
// silently reuses an answer.
type Stub struct {
	mu      sync.Mutex
	script  []stubStep
	calls   []StubCall
	delay   time.Duration
	failAll error
}

type stubStep struct {
	text string
	err  error
}

// StubCall records the prompts of one Complete invocation.
type StubCall struct {
	System      string
	User        string
	Temperature float32
}

// NewStub creates an empty Stub.
func NewStub() *Stub { return &Stub{} }

// Respond appends a successful scripted response.
func (s *Stub) Respond(text string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, stubStep{text: text})
	return s
}

// Fail appends a scripted failure.
func (s *Stub) Fail(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, stubStep{err: err})
	return s
}

// FailAlways makes every call fail with err, ignoring the script.
func (s *Stub) FailAlways(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
	return s
}

// Delay makes every call block for d or until the context expires.
func (s *Stub) Delay(d time.Duration) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Calls returns the recorded invocations.
func (s *Stub) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubCall(nil), s.calls...)
}

// CallCount returns the number of invocations so far.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Stub) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{System: system, User: user, Temperature: temperature})
	delay, failAll := s.delay, s.failAll
	var step stubStep
	var exhausted bool
	if failAll == nil {
		if len(s.script) == 0 {
			exhausted = true
		} else {
			step = s.script[0]
			s.script = s.script[1:]
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if failAll != nil {
		return "", failAll
	}
	if exhausted {
		return "", fmt.Errorf("llm stub: script exhausted")
	}
	if step.err != nil {
		return "", step.err
	}
	return step.text, nil
}

func (s *Stub) CompleteJSON(ctx context.Context, system, user string, temperature float32, out any) error {
	text, err := s.Complete(ctx, system, user, temperature)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}
