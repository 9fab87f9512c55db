package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"corridor-router/internal/risk"
	"corridor-router/internal/scheduler"
)

// Engine is the part of risk.Engine the service drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Recompute(ctx context.Context) ([]risk.CorridorState, error)
}

// RecomputeObserver receives timing and results of every recompute.
type RecomputeObserver interface {
	ObserveRecompute(elapsed time.Duration, states []risk.CorridorState)
}

// Service runs the periodic corridor recompute loop.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    Engine
	observer  RecomputeObserver
	logger    zerolog.Logger
}

// New constructs the recompute service. sched may be nil for one-shot use.
func New(sched *scheduler.Scheduler, engine Engine, observer RecomputeObserver, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		engine:    engine,
		observer:  observer,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run starts the engine and blocks on the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("start risk engine: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.engine.Stop(stopCtx)
	}()

	err := s.scheduler.Run(ctx, s.Tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick is the scheduler callback.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	_, err := s.Recompute(ctx)
	return err
}

// Trigger asks the scheduler for an out-of-band recompute. It reports false
// when no scheduler runs or a trigger is already pending.
func (s *Service) Trigger() bool {
	if s.scheduler == nil {
		return false
	}
	return s.scheduler.Trigger()
}

// Recompute runs one recompute synchronously and reports it to the observer.
func (s *Service) Recompute(ctx context.Context) ([]risk.CorridorState, error) {
	started := time.Now()
	states, err := s.engine.Recompute(ctx)
	elapsed := time.Since(started)
	if err != nil {
		return nil, fmt.Errorf("recompute corridors: %w", err)
	}

	if s.observer != nil {
		s.observer.ObserveRecompute(elapsed, states)
	}

	event := s.logger.Debug().Dur("elapsed", elapsed).Int("corridors", len(states))
	for _, st := range states {
		if st.SuggestedAdjustmentBps > 0 {
			event = event.Int(st.Pair, st.SuggestedAdjustmentBps)
		}
	}
	event.Msg("corridors recomputed")
	return states, nil
}
