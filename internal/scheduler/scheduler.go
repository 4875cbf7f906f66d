// Package scheduler runs the periodic jobs: feed polling, the daily digest
// and the weekly report. Schedules are evaluated in UTC.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/robfig/cron/v3"
)

// Default schedules, in standard 5-field cron syntax.
const (
	PollSpec   = "*/30 * * * *"
	DailySpec  = "0 13 * * *"
	WeeklySpec = "0 14 * * 0"
)

// jobTimeout bounds a single run, below the poll interval.
const jobTimeout = 25 * time.Minute

var (
	// ErrUnknownJob is returned for a job name that was never added.
	ErrUnknownJob = errors.New("unknown job")
	// ErrStopped is returned by Trigger once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")
)

// Func is a scheduled unit of work.
type Func func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A job that is still running
// when its next tick arrives skips that tick.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger log.Logger

	mu      sync.Mutex
	jobs    map[string]cron.EntryID
	stopped bool
	manual  sync.WaitGroup // Trigger runs, which cron does not track

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cl := cronLogger{L: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser: parser,
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name on spec.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	s.jobs[name] = id
	s.logger.Info(s.ctx, "job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(name string, fn Func) {
	L := s.logger.With("job", name)
	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	L.Info(ctx, "job started")
	if err := fn(ctx); err != nil {
		L.Error(ctx, err, "job failed", "duration", time.Since(start))
		return
	}
	L.Info(ctx, "job finished", "duration", time.Since(start))
}

// Trigger runs the named job now, through the same skip and recover chain
// as scheduled runs. It blocks until the job returns. Stop waits for
// triggered runs too.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	id, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	s.manual.Add(1)
	s.mu.Unlock()

	defer s.manual.Done()
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Next returns the next scheduled run of the named job after from.
func (s *Scheduler) Next(name string, from time.Time) (time.Time, error) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.cron.Entry(id).Schedule.Next(from.In(time.UTC)), nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(s.ctx, "scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling, cancels running jobs and waits for them, scheduled
// or triggered, until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	L log.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.L.Info(context.Background(), "cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.L.Error(context.Background(), err, "cron: "+msg, kv...)
}
