package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"corridor-router/internal/config"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
	"corridor-router/internal/storage"
)

// Saturday, outside every default weekday window.
var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	a.Out = &out
	a.Clock = func() time.Time { return fixedNow }
	return a, &out
}

func TestSimulatePrintsSeededStates(t *testing.T) {
	a, out := newTestApp(t)

	err := a.Simulate(context.Background(), SimulateOptions{
		Signals: []risk.Signal{{Source: risk.SourceLiquidityDrain, Corridor: "USD/PKR", Magnitude: 2}},
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	text := out.String()
	for _, want := range []string{"Pair", "USD/INR", "USD/PKR", "GBP/INR"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestSimulateAlertNeedsChannel(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Simulate(context.Background(), SimulateOptions{Alert: true}); err == nil {
		t.Fatal("expected error without an alert channel")
	}
}

func TestQuotePrintsRankedRoutes(t *testing.T) {
	a, out := newTestApp(t)

	err := a.Quote(context.Background(), QuoteOptions{
		Request: routing.QuoteRequest{
			FromNetwork: "ethereum",
			ToNetwork:   "base",
			Asset:       "USDC",
			Amount:      decimal.NewFromInt(1000),
			Corridor:    "usd/inr",
		},
		Seed: true,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "LayerZero") || !strings.Contains(text, "corridor USD/INR") {
		t.Fatalf("unexpected quote output:\n%s", text)
	}
}

func TestQuoteRejectsInvalidRequest(t *testing.T) {
	a, _ := newTestApp(t)

	err := a.Quote(context.Background(), QuoteOptions{
		Request: routing.QuoteRequest{FromNetwork: "ethereum", ToNetwork: "base", Amount: decimal.NewFromInt(10)},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPricingPrintsJSON(t *testing.T) {
	a, out := newTestApp(t)

	if err := a.Pricing(context.Background(), PricingOptions{Pair: "USD/INR", AmountMinorUnits: 1_000_000}); err != nil {
		t.Fatalf("pricing: %v", err)
	}
	var p risk.Pricing
	if err := json.Unmarshal(out.Bytes(), &p); err != nil {
		t.Fatalf("decode pricing: %v", err)
	}
	if p.TotalFeeBps != 70 || p.FeeMinorUnits != 7000 {
		t.Fatalf("unexpected pricing %+v", p)
	}
}

type memorySnapshots struct {
	batches [][]storage.CorridorSnapshot
}

func (m *memorySnapshots) UpsertSnapshots(_ context.Context, snaps []storage.CorridorSnapshot) error {
	m.batches = append(m.batches, snaps)
	return nil
}

func TestReplaySteppedClock(t *testing.T) {
	a, _ := newTestApp(t)
	start := fixedNow
	records := []storage.SignalRecord{
		{ID: "late", Source: "liquidity-drain", Corridor: "USD/INR", Timestamp: start.Add(90 * time.Second), Magnitude: 2},
		{ID: "unknown", Source: "manual", Corridor: "EUR/NGN", Timestamp: start.Add(-time.Minute), Magnitude: 1},
	}
	store := &memorySnapshots{}

	res, err := a.replay(context.Background(), records, start, start.Add(3*time.Minute), time.Minute, store)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.buckets != 3 || res.ingested != 1 || res.rejected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.batches) != 3 {
		t.Fatalf("expected a snapshot batch per bucket, got %d", len(store.batches))
	}

	// the signal is only visible from the third bucket on
	for i, batch := range store.batches {
		var usdInr storage.CorridorSnapshot
		for _, snap := range batch {
			if snap.Pair == "USD/INR" {
				usdInr = snap
			}
		}
		if i < 2 && usdInr.AdjustmentBps != 0 {
			t.Fatalf("bucket %d: expected no adjustment before the signal, got %d", i, usdInr.AdjustmentBps)
		}
		if i == 2 && usdInr.AdjustmentBps == 0 {
			t.Fatal("expected an adjustment once the signal is replayed")
		}
		if want := start.Add(time.Duration(i) * time.Minute); !usdInr.ComputedAt.Equal(want) {
			t.Fatalf("bucket %d computed at %v, want %v", i, usdInr.ComputedAt, want)
		}
	}
}

func TestReplayNeedsDatabase(t *testing.T) {
	a, _ := newTestApp(t)
	err := a.Replay(context.Background(), ReplayOptions{From: fixedNow, To: fixedNow.Add(time.Hour)})
	if err == nil || !strings.Contains(err.Error(), "database not configured") {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestAlignForward(t *testing.T) {
	got := alignForward(time.Date(2024, 6, 1, 12, 0, 5, 0, time.UTC), 10*time.Second)
	if want := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("alignForward = %v, want %v", got, want)
	}
	if got := alignForward(fixedNow, time.Minute); !got.Equal(fixedNow) {
		t.Fatalf("aligned time moved to %v", got)
	}
}

func testSnapshots(n int) []storage.CorridorSnapshot {
	out := make([]storage.CorridorSnapshot, n)
	for i := range out {
		out[i] = storage.CorridorSnapshot{
			Pair:          "USD/INR",
			ComputedAt:    fixedNow.Add(time.Duration(i) * time.Minute),
			BaseFeeBps:    70,
			AdjustmentBps: i,
			TotalFeeBps:   70 + i,
			RiskScore:     float64(i) / float64(n),
			ActiveSignals: i % 3,
		}
	}
	return out
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := testSnapshots(100)

	got := downsampleSnapshots(snaps, 10)
	if len(got) != 10 {
		t.Fatalf("expected 10 points, got %d", len(got))
	}
	if got[0].AdjustmentBps != 0 || got[9].AdjustmentBps != 99 {
		t.Fatalf("expected endpoints to be kept, got %d..%d", got[0].AdjustmentBps, got[9].AdjustmentBps)
	}
	if len(downsampleSnapshots(snaps, 0)) != 100 {
		t.Fatal("zero max should keep every point")
	}
}

func TestWriteSnapshotsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.csv")
	if err := writeSnapshotsCSV(path, testSnapshots(3)); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "computed_at" || rows[3][3] != "2" || rows[3][4] != "72" {
		t.Fatalf("unexpected csv content %v", rows)
	}
}

func TestWriteSnapshotsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.png")
	if err := writeSnapshotsPNG(path, "USD/INR", testSnapshots(20)); err != nil {
		t.Fatalf("write png: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat png: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected a non-empty png")
	}
}
