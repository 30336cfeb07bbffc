// Package sched runs the periodic maintenance work: schema refresh, session
// sweep and metrics flush. Multiple instances may run the scheduler; each
// tick is guarded by an advisory lock with a lease of twice the job period,
// so exactly one instance executes the work and missed ticks are dropped
// rather than accumulated.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic task.
type Job struct {
	Name   string
	Spec   string        // cron spec, e.g. "@every 1h"
	Period time.Duration // drives the election lease (2× period)
	Run    func(ctx context.Context) error
}

// Scheduler wraps a cron runner with per-job lock election.
type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	log    *slog.Logger
	jobs   []Job
}

// New creates a Scheduler. locker may be nil for single-instance deployments.
func New(locker Locker, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if locker == nil {
		locker = NewMemoryLocker(nil)
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		locker: locker,
		log:    log,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(j Job) error {
	s.jobs = append(s.jobs, j)
	_, err := s.cron.AddFunc(j.Spec, func() { s.runElected(j) })
	return err
}

// Start begins ticking in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("sched: started", "jobs", len(s.jobs))
}

// Stop halts ticking and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("sched: stopped")
}

func (s *Scheduler) runElected(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), j.Period)
	defer cancel()

	held, err := s.locker.TryAcquire(ctx, "sched:"+j.Name, 2*j.Period)
	if err != nil {
		s.log.Warn("sched: election failed, skipping tick", "job", j.Name, "error", err)
		return
	}
	if !held {
		s.log.Debug("sched: another instance holds the lock", "job", j.Name)
		return
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		s.log.Error("sched: job failed", "job", j.Name, "error", err)
		return
	}
	s.log.Info("sched: job done", "job", j.Name, "took", time.Since(start))
}
