// Package schedule runs the recurring check and invalidation jobs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one recurring task. Errors are logged; they never stop the scheduler.
type Job func(ctx context.Context) error

// Scheduler triggers jobs on cron specs evaluated in a fixed timezone.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	ctx     context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job run. Zero means no limit.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler. A job still running when its next tick arrives
// skips that tick, and a panicking job is recovered and logged.
func New(loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		logger: logger,
		ctx:    context.Background(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			// Recover must sit inside SkipIfStillRunning so a panic frees the slot.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers job under name on a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, s.wrap(name, job)); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.logger.Info("Job scheduled", "job", name, "spec", spec)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.cron.Entries()))

	<-ctx.Done()

	s.logger.Info("Scheduler stopping, waiting for running jobs")
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) wrap(name string, job Job) func() {
	return func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("Job failed",
				"job", name,
				"error", err,
				"duration_ms", time.Since(start).Milliseconds())
			return
		}
		s.logger.Info("Job completed",
			"job", name,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
