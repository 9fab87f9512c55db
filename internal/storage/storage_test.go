package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

type memoryStore struct {
	mu        sync.Mutex
	snapshots []CorridorSnapshot
	signals   []SignalRecord
	quotes    []QuoteLog
	block     chan struct{}
	failWith  error
}

func (m *memoryStore) UpsertSnapshots(_ context.Context, snaps []CorridorSnapshot) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.snapshots = append(m.snapshots, snaps...)
	return nil
}

func (m *memoryStore) InsertSignal(_ context.Context, rec SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, rec)
	return nil
}

func (m *memoryStore) InsertQuoteLog(_ context.Context, entry QuoteLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes = append(m.quotes, entry)
	return int64(len(m.quotes)), nil
}

func (m *memoryStore) ListSignalsBetween(context.Context, time.Time, time.Time) ([]SignalRecord, error) {
	return nil, nil
}

func (m *memoryStore) ListSnapshotsBetween(context.Context, string, time.Time, time.Time) ([]CorridorSnapshot, error) {
	return nil, nil
}

func (m *memoryStore) ListRecentSnapshots(context.Context, int) ([]CorridorSnapshot, error) {
	return nil, nil
}

func (m *memoryStore) CountSnapshots(context.Context) (int64, error) { return 0, nil }

func (m *memoryStore) DeleteSnapshotsBefore(context.Context, time.Time) error { return nil }

func (m *memoryStore) ListRecentQuoteLogs(context.Context, int) ([]QuoteLog, error) {
	return nil, nil
}

func newTestAuditor(m *memoryStore, queue int) *Auditor {
	return NewAuditor(AuditorOptions{Snapshots: m, Signals: m, Quotes: m, QueueSize: queue}, zerolog.Nop())
}

func TestAuditorPersistsEvents(t *testing.T) {
	m := &memoryStore{}
	a := newTestAuditor(m, 8)
	a.Start()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	sig := risk.Signal{ID: "sig-1", Source: risk.SourceIntervention, Corridor: "USD/INR", Timestamp: now, Magnitude: 0.8, TTL: 2 * time.Hour}
	_ = a.Handle(context.Background(), risk.Event{Type: risk.EventSignalIngested, At: now, Signal: &sig})
	_ = a.Handle(context.Background(), risk.Event{Type: risk.EventStateUpdated, At: now, States: []risk.CorridorState{
		{Pair: "USD/INR", BaseFeeBps: 70, SuggestedAdjustmentBps: 6, TotalFeeBps: 76, LastComputedAt: now, ActiveSignals: []risk.Signal{sig}},
	}})
	_ = a.Handle(context.Background(), risk.Event{Type: risk.EventStarted, At: now})
	a.Close()

	if len(m.signals) != 1 || m.signals[0].TTL != 2*time.Hour || m.signals[0].Source != "intervention" {
		t.Fatalf("signal not archived: %+v", m.signals)
	}
	if len(m.snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(m.snapshots))
	}
	snap := m.snapshots[0]
	if snap.AdjustmentBps != 6 || snap.TotalFeeBps != 76 || snap.ActiveSignals != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestAuditorRecordQuote(t *testing.T) {
	m := &memoryStore{}
	a := newTestAuditor(m, 8)
	a.Start()

	req := routing.QuoteRequest{FromNetwork: "ETHEREUM", ToNetwork: "BASE", Asset: "USDC", Amount: decimal.NewFromInt(1000), Corridor: "USD/INR"}
	res := routing.QuoteResult{
		AdjustmentBps: 7,
		Routes: []routing.Route{
			{Rank: 1, Provider: "LayerZero", TotalFeePercent: decimal.RequireFromString("1.52")},
			{Rank: 2, Provider: "Wormhole", TotalFeePercent: decimal.RequireFromString("1.62")},
		},
		Failures: []routing.ProviderFailure{{Provider: "Circle CCTP", Reason: "timeout"}},
	}
	a.RecordQuote(req, res, nil)
	a.RecordQuote(req, routing.QuoteResult{}, routing.ErrNoRouteAvailable)
	a.Close()

	if len(m.quotes) != 2 {
		t.Fatalf("expected two quote logs, got %d", len(m.quotes))
	}
	ok := m.quotes[0]
	if ok.Status != "ok" || ok.BestProvider != "LayerZero" || ok.RouteCount != 2 || !ok.BestTotalFeePct.Equal(decimal.RequireFromString("1.52")) {
		t.Fatalf("unexpected ok log %+v", ok)
	}
	if string(ok.Failures) != `[{"provider":"Circle CCTP","reason":"timeout"}]` {
		t.Fatalf("unexpected failures payload %s", ok.Failures)
	}
	if ok.QuotedAt.IsZero() {
		t.Fatal("quote log should be timestamped")
	}
	failed := m.quotes[1]
	if failed.Status != "failed" || failed.Error == nil || *failed.Error != routing.ErrNoRouteAvailable.Error() {
		t.Fatalf("unexpected failed log %+v", failed)
	}
}

func TestAuditorDropsWhenQueueFull(t *testing.T) {
	m := &memoryStore{block: make(chan struct{})}
	a := newTestAuditor(m, 1)
	a.Start()

	state := risk.Event{Type: risk.EventStateUpdated, States: []risk.CorridorState{{Pair: "USD/INR"}}}
	for i := 0; i < 5; i++ {
		_ = a.Handle(context.Background(), state)
	}
	if a.Dropped() == 0 {
		t.Fatal("expected drops with a blocked writer and a queue of one")
	}
	close(m.block)
	a.Close()
}

func TestAuditorSwallowsWriteErrors(t *testing.T) {
	m := &memoryStore{failWith: errors.New("connection refused")}
	a := newTestAuditor(m, 4)
	a.Start()
	if err := a.Handle(context.Background(), risk.Event{Type: risk.EventStateUpdated, States: []risk.CorridorState{{Pair: "USD/INR"}}}); err != nil {
		t.Fatalf("handle must not surface write errors: %v", err)
	}
	a.Close()
	a.RecordQuote(routing.QuoteRequest{}, routing.QuoteResult{}, nil)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()
	if err := s.UpsertSnapshots(ctx, []CorridorSnapshot{{Pair: "USD/INR"}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListSignalsBetween(ctx, time.Time{}, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.InsertQuoteLog(ctx, QuoteLog{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	s.Close()
}

func TestSignalRecordRestoresSignal(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	rec := SignalRecord{ID: "x", Source: "policy-program", Corridor: "USD/PKR", Timestamp: at, Magnitude: 0.6, TTL: 3 * time.Hour}
	sig := rec.Signal()
	if sig.Source != risk.SourcePolicyProgram || sig.TTL != 3*time.Hour || !sig.Timestamp.Equal(at) {
		t.Fatalf("unexpected signal %+v", sig)
	}
}
