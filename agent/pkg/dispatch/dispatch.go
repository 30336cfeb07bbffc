// Package dispatch owns the concurrency model: bounded worker pools pulling
// jobs off in-memory queues, two-phase time limits, transient retries and the
// persisted job state machine.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
	"github.com/landmarklabs/sqlchat/api/metrics"
)

// PoolConfig sizes one worker pool. Pools differ only in limits and size.
type PoolConfig struct {
	Name      string
	Workers   int
	QueueSize int
	SoftLimit time.Duration
	HardLimit time.Duration
}

// DefaultPools returns the stock three-pool layout around the given standard
// limits.
func DefaultPools(soft, hard time.Duration) []PoolConfig {
	return []PoolConfig{
		{Name: PoolSimple, Workers: 2, QueueSize: 64, SoftLimit: soft / 2, HardLimit: hard / 2},
		{Name: PoolStandard, Workers: 4, QueueSize: 128, SoftLimit: soft, HardLimit: hard},
		{Name: PoolComplex, Workers: 2, QueueSize: 32, SoftLimit: soft * 2, HardLimit: hard * 2},
	}
}

// Config tunes the Dispatcher.
type Config struct {
	Pools          []PoolConfig
	MaxRetries     int
	MaxQuestionLen int
	RetryBase      time.Duration
}

// DefaultConfig returns the stock dispatcher tuning.
func DefaultConfig() Config {
	return Config{
		Pools:          DefaultPools(50*time.Second, 60*time.Second),
		MaxRetries:     3,
		MaxQuestionLen: 4096,
		RetryBase:      time.Second,
	}
}

type job struct {
	id        string
	question  string
	sessionID string
	attempt   int
}

type pool struct {
	cfg   PoolConfig
	queue chan job
}

// inflight tracks one running job's cancellation machinery.
type inflight struct {
	cancel    context.CancelFunc
	soft      atomic.Bool
	cancelled atomic.Bool
}

// Runner is what the dispatcher runs per job; satisfied by agent.Agent.
type Runner interface {
	Answer(ctx context.Context, question, sessionID string, gate agent.Gate) (agent.Payload, error)
}

// Dispatcher accepts jobs, routes them to pools and persists their lifecycle
// through the result store.
type Dispatcher struct {
	cfg        Config
	pools      map[string]*pool
	runner     Runner
	results    *ResultStore
	classifier Classifier
	clock      clockwork.Clock
	log        *slog.Logger

	mu       sync.Mutex
	running  map[string]*inflight
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopBase context.CancelFunc
	started  bool
	stopping bool
}

// New creates a Dispatcher. classifier may be nil for all-to-standard routing.
func New(runner Runner, results *ResultStore, classifier Classifier, cfg Config, clock clockwork.Clock, log *slog.Logger) *Dispatcher {
	if classifier == nil {
		classifier = StaticClassifier(PoolStandard)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	pools := make(map[string]*pool, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		pools[pc.Name] = &pool{cfg: pc, queue: make(chan job, pc.QueueSize)}
	}
	return &Dispatcher{
		cfg:        cfg,
		pools:      pools,
		runner:     runner,
		results:    results,
		classifier: classifier,
		clock:      clock,
		log:        log,
		running:    make(map[string]*inflight),
	}
}

// Start launches the worker pools.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.baseCtx, d.stopBase = context.WithCancel(context.WithoutCancel(ctx))
	for _, p := range d.pools {
		for i := 0; i < p.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(p)
		}
	}
	d.log.Info("dispatch: started", "pools", len(d.pools))
}

// Stop drains the queues and waits for in-flight jobs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopping {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	for _, p := range d.pools {
		close(p.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.stopBase()
	d.log.Info("dispatch: stopped")
}

// Submit validates and enqueues a question, returning the new job id. The
// call never blocks on a full queue: it fails with Overloaded.
func (d *Dispatcher) Submit(ctx context.Context, question, sessionID string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", agent.Errf(agent.KindInvalidInput, "question is empty")
	}
	if len(question) > d.cfg.MaxQuestionLen {
		return "", agent.Errf(agent.KindInvalidInput, "question exceeds %d bytes", d.cfg.MaxQuestionLen)
	}

	poolName := d.classifier.Route(ctx, question)
	p, ok := d.pools[poolName]
	if !ok {
		p = d.pools[PoolStandard]
		poolName = PoolStandard
	}

	j := job{id: uuid.NewString(), question: question, sessionID: sessionID}
	rec := Record{
		JobID:       j.id,
		State:       StateQueued,
		Pool:        poolName,
		SessionID:   sessionID,
		SubmittedAt: d.clock.Now().UTC(),
	}
	if err := d.results.Put(ctx, rec); err != nil {
		return "", agent.WrapErr(agent.KindInternal, err, "failed to persist job record")
	}

	if !d.enqueue(p, j) {
		rec.State = StateFailed
		rec.ErrorKind = agent.KindOverloaded
		rec.ErrorMessage = agent.UserMessage(agent.KindOverloaded)
		rec.FinishedAt = d.clock.Now().UTC()
		_ = d.results.Put(ctx, rec)
		return "", agent.Errf(agent.KindOverloaded, "%s queue is full", poolName)
	}
	metrics.RecordJobState(poolName, string(StateQueued))
	metrics.SetQueueDepth(poolName, len(p.queue))
	return j.id, nil
}

// enqueue attempts a non-blocking send, held under the lock so it can never
// race a shutdown's queue close.
func (d *Dispatcher) enqueue(p *pool, j job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping {
		return false
	}
	select {
	case p.queue <- j:
		return true
	default:
		return false
	}
}

// Poll returns the current record for jobID.
func (d *Dispatcher) Poll(ctx context.Context, jobID string) (Record, error) {
	rec, ok, err := d.results.Get(ctx, jobID)
	if err != nil {
		return Record{}, agent.WrapErr(agent.KindInternal, err, "failed to read job record")
	}
	if !ok {
		return Record{}, agent.Errf(agent.KindUnknownJob, "no job %s", jobID)
	}
	return rec, nil
}

// Cancel flags a job for cooperative cancellation. Queued jobs are cancelled
// on pickup; running jobs unwind at the next stage boundary.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	rec, ok, err := d.results.Get(ctx, jobID)
	if err != nil || !ok {
		return agent.Errf(agent.KindUnknownJob, "no job %s", jobID)
	}
	if rec.State.Terminal() {
		return nil
	}

	d.mu.Lock()
	inf := d.running[jobID]
	d.mu.Unlock()
	if inf != nil {
		inf.cancelled.Store(true)
		return nil
	}

	// Still queued: mark the record; the worker drops it on pickup.
	rec.State = StateCancelled
	rec.FinishedAt = d.clock.Now().UTC()
	_ = d.results.Put(ctx, rec)
	metrics.RecordJobState(rec.Pool, string(StateCancelled))
	return nil
}

func (d *Dispatcher) worker(p *pool) {
	defer d.wg.Done()
	for j := range p.queue {
		metrics.SetQueueDepth(p.cfg.Name, len(p.queue))
		d.runJob(p, j)
	}
}

func (d *Dispatcher) runJob(p *pool, j job) {
	ctx := d.baseCtx

	// A queued job may have been cancelled before pickup.
	if rec, ok, _ := d.results.Get(ctx, j.id); ok && rec.State.Terminal() {
		return
	}

	inf := &inflight{}
	hardCtx, cancel := context.WithTimeout(ctx, p.cfg.HardLimit)
	inf.cancel = cancel
	defer cancel()

	d.mu.Lock()
	d.running[j.id] = inf
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, j.id)
		d.mu.Unlock()
	}()

	softTimer := d.clock.AfterFunc(p.cfg.SoftLimit, func() { inf.soft.Store(true) })
	defer softTimer.Stop()

	started := d.clock.Now().UTC()
	rec := Record{
		JobID:       j.id,
		State:       StateRunning,
		Pool:        p.cfg.Name,
		SessionID:   j.sessionID,
		SubmittedAt: started,
		StartedAt:   started,
		Attempt:     j.attempt,
	}
	if prev, ok, _ := d.results.Get(ctx, j.id); ok {
		rec.SubmittedAt = prev.SubmittedAt
	}
	_ = d.results.Put(ctx, rec)
	metrics.RecordJobState(p.cfg.Name, string(StateRunning))

	gate := func() error {
		if inf.cancelled.Load() {
			return agent.Errf(agent.KindCancelled, "cancelled by caller")
		}
		if inf.soft.Load() {
			return agent.Errf(agent.KindTimeout, "soft time limit reached")
		}
		return nil
	}

	type outcome struct {
		payload agent.Payload
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := d.runner.Answer(hardCtx, j.question, j.sessionID, gate)
		done <- outcome{payload, err}
	}()

	select {
	case out := <-done:
		d.finish(ctx, p, j, rec, out.payload, out.err)
	case <-hardCtx.Done():
		// Hard limit: abandon the stage. The goroutine unwinds on its own;
		// its outcome is discarded so no further writes happen for this job.
		rec.State = StateFailed
		rec.ErrorKind = agent.KindTimeout
		rec.ErrorMessage = agent.UserMessage(agent.KindTimeout)
		rec.FinishedAt = d.clock.Now().UTC()
		_ = d.results.Put(ctx, rec)
		metrics.RecordJobState(p.cfg.Name, string(StateFailed))
		d.log.Warn("dispatch: job hit hard time limit", "job_id", j.id, "pool", p.cfg.Name)
	}
}

func (d *Dispatcher) finish(ctx context.Context, p *pool, j job, rec Record, payload agent.Payload, err error) {
	rec.FinishedAt = d.clock.Now().UTC()

	if err == nil {
		rec.State = StateSucceeded
		rec.Payload = &payload
		_ = d.results.Put(ctx, rec)
		metrics.RecordJobState(p.cfg.Name, string(StateSucceeded))
		return
	}

	kind := agent.KindOf(err)
	if kind == agent.KindCancelled {
		rec.State = StateCancelled
		_ = d.results.Put(ctx, rec)
		metrics.RecordJobState(p.cfg.Name, string(StateCancelled))
		return
	}

	if agent.IsTransient(err) && j.attempt < d.cfg.MaxRetries {
		if d.requeue(ctx, p, j, rec) {
			return
		}
	}

	rec.State = StateFailed
	rec.ErrorKind = kind
	rec.ErrorMessage = agent.UserMessage(kind)
	rec.Detail = err.Error()
	_ = d.results.Put(ctx, rec)
	metrics.RecordJobState(p.cfg.Name, string(StateFailed))
	d.log.Info("dispatch: job failed", "job_id", j.id, "kind", kind, "attempt", j.attempt)
}

// requeue re-enqueues a transiently failed job with exponential backoff.
// Returns false when the queue stays full past the backoff, in which case the
// caller writes the terminal failure.
func (d *Dispatcher) requeue(ctx context.Context, p *pool, j job, rec Record) bool {
	next := j
	next.attempt++
	delay := d.cfg.RetryBase << (j.attempt)

	rec.State = StateQueued
	rec.Attempt = next.attempt
	_ = d.results.Put(ctx, rec)
	metrics.RecordJobState(p.cfg.Name, "retried")
	d.log.Info("dispatch: re-enqueueing transient failure", "job_id", j.id, "attempt", next.attempt, "delay", delay)

	d.wg.Add(1)
	d.clock.AfterFunc(delay, func() {
		defer d.wg.Done()
		if !d.enqueue(p, next) {
			final := rec
			final.State = StateFailed
			final.ErrorKind = agent.KindOverloaded
			final.ErrorMessage = agent.UserMessage(agent.KindOverloaded)
			final.FinishedAt = d.clock.Now().UTC()
			_ = d.results.Put(ctx, final)
		}
	})
	return true
}

// FlushQueueDepths republishes the queue depth gauges. Run periodically so
// the gauges stay fresh even when no jobs move.
func (d *Dispatcher) FlushQueueDepths() {
	for name, p := range d.pools {
		metrics.SetQueueDepth(name, len(p.queue))
	}
}

// QueueDepths reports the current queue depth per pool, for health output.
func (d *Dispatcher) QueueDepths() map[string]int {
	depths := make(map[string]int, len(d.pools))
	for name, p := range d.pools {
		depths[name] = len(p.queue)
	}
	return depths
}

