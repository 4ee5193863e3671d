// Package scheduler triggers the sync pipeline once per day at a
// configured wall-clock time in a configured timezone.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is the unit of work the scheduler fires.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Options configure the daily scheduler.
type Options struct {
	// DailyAt is the offset from local midnight at which the job fires.
	DailyAt time.Duration
	// Location is the timezone the wall-clock time is interpreted in.
	Location *time.Location
	// RunOnStart fires the job immediately before waiting for the first
	// scheduled slot.
	RunOnStart bool
}

// Scheduler fires a job daily. It owns no goroutines of its own; Run
// blocks until the context is cancelled.
type Scheduler struct {
	opts   Options
	job    Job
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a daily scheduler.
func New(opts Options, job Job, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Scheduler{
		opts:   opts,
		job:    job,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// nextFire returns the next occurrence of the configured wall-clock
// time strictly after now. Timezone transitions are handled by
// resolving the wall-clock value against the location each day.
func (s *Scheduler) nextFire(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	fire := midnight.Add(s.opts.DailyAt)
	if !fire.After(now) {
		fire = midnight.AddDate(0, 0, 1).Add(s.opts.DailyAt)
	}
	return fire
}

// Run blocks, firing the job at each daily slot until the context is
// cancelled. Job errors are logged, never fatal; the next slot is
// always scheduled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.RunOnStart {
		s.fire(ctx)
	}

	for {
		next := s.nextFire(s.now())
		wait := next.Sub(s.now())
		s.logger.Info().Time("next_run", next).Dur("wait", wait).Msg("scheduled next sync run")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	started := s.now()
	if err := s.job.Run(ctx); err != nil {
		s.logger.Error().Err(err).Dur("elapsed", s.now().Sub(started)).Msg("scheduled run failed")
		return
	}
	s.logger.Info().Dur("elapsed", s.now().Sub(started)).Msg("scheduled run completed")
}
