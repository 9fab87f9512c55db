package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval and on every explicit trigger.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// OnSkip is called once per dropped tick.
	OnSkip func()
}

// Scheduler drives periodic execution of a single job. Ticks never overlap:
// intervals that elapse while a tick is still running are dropped and counted.
type Scheduler struct {
	opts    Options
	trigger chan struct{}
	skipped atomic.Int64
	running atomic.Bool
	logger  zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:    opts,
		trigger: make(chan struct{}, 1),
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Trigger requests an immediate tick. Requests made while one is already
// pending collapse into it and count as skipped.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		s.skip(1)
		return false
	}
}

// Skipped reports how many ticks were dropped so far.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Running reports whether Run is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Run blocks, invoking tick at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		now := time.Now().UTC()
		if missed := s.missedTicks(next, now); missed > 0 {
			s.skip(missed)
			s.logger.Warn().Int64("skipped", missed).Msg("tick overran interval, dropping late ticks")
			next = s.nextTick(now)
		}

		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		var at time.Time
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()
			at = time.Now().UTC()
			s.logger.Debug().Msg("executing triggered tick")
		case <-timer.C:
			at = s.bucketStart(next)
			next = next.Add(s.opts.Interval)
		}

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}
	}
}

// missedTicks counts whole intervals that elapsed past next.
func (s *Scheduler) missedTicks(next, now time.Time) int64 {
	if !now.After(next) {
		return 0
	}
	return int64(now.Sub(next)/s.opts.Interval) + 1
}

func (s *Scheduler) skip(n int64) {
	s.skipped.Add(n)
	if s.opts.OnSkip != nil {
		for i := int64(0); i < n; i++ {
			s.opts.OnSkip()
		}
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
