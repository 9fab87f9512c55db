package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"corridor-router/internal/risk"
	"corridor-router/internal/scheduler"
)

type fakeEngine struct {
	started    atomic.Bool
	stopped    atomic.Bool
	recomputes atomic.Int32
	err        error
}

func (f *fakeEngine) Start(context.Context) error {
	f.started.Store(true)
	return nil
}

func (f *fakeEngine) Stop(context.Context) {
	f.stopped.Store(true)
}

func (f *fakeEngine) Recompute(context.Context) ([]risk.CorridorState, error) {
	f.recomputes.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []risk.CorridorState{{Pair: "USD/INR", SuggestedAdjustmentBps: 6}}, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	calls int
	last  []risk.CorridorState
}

func (r *recordingObserver) ObserveRecompute(_ time.Duration, states []risk.CorridorState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = states
}

func TestRecomputeReportsToObserver(t *testing.T) {
	eng := &fakeEngine{}
	obs := &recordingObserver{}
	svc := New(nil, eng, obs, zerolog.Nop())

	states, err := svc.Recompute(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(states) != 1 || obs.calls != 1 || obs.last[0].Pair != "USD/INR" {
		t.Fatalf("observer not called with states: %+v", obs)
	}
}

func TestRecomputeWrapsEngineError(t *testing.T) {
	boom := errors.New("boom")
	obs := &recordingObserver{}
	svc := New(nil, &fakeEngine{err: boom}, obs, zerolog.Nop())
	if _, err := svc.Recompute(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped engine error, got %v", err)
	}
	if obs.calls != 0 {
		t.Fatal("failed recomputes are not observed")
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(nil, &fakeEngine{}, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error without scheduler")
	}
	if svc.Trigger() {
		t.Fatal("trigger without scheduler should report false")
	}
}

func TestRunStartsTicksAndStops(t *testing.T) {
	sched, err := scheduler.New(scheduler.Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{}
	svc := New(sched, eng, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for eng.recomputes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run should end cleanly on cancel, got %v", err)
	}
	if !eng.started.Load() || !eng.stopped.Load() {
		t.Fatal("engine should be started and stopped")
	}
	if eng.recomputes.Load() < 2 {
		t.Fatalf("expected scheduled recomputes, got %d", eng.recomputes.Load())
	}
}
