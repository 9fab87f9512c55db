package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"corridor-router/internal/risk"
)

func TestRecorderCorridorGauges(t *testing.T) {
	r := New()
	r.ObserveRecompute(3*time.Millisecond, []risk.CorridorState{
		{Pair: "USD/INR", SuggestedAdjustmentBps: 12, RiskScore: 0.25, InSensitiveWindow: true},
	})

	if got := testutil.ToFloat64(r.adjustmentBps.WithLabelValues("USD/INR")); got != 12 {
		t.Fatalf("expected adjustment gauge 12, got %v", got)
	}
	if got := testutil.ToFloat64(r.inWindow.WithLabelValues("USD/INR")); got != 1 {
		t.Fatalf("expected in-window gauge 1, got %v", got)
	}
}

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.ObserveProviderQuote("LayerZero", "timeout", time.Second)
	r.ObserveProviderQuote("LayerZero", "timeout", time.Second)
	r.EventDropped("websocket", "state_updated")
	r.TickSkipped()

	if got := testutil.ToFloat64(r.providerCalls.WithLabelValues("LayerZero", "timeout")); got != 2 {
		t.Fatalf("expected 2 timeouts, got %v", got)
	}
	if got := testutil.ToFloat64(r.skippedTicks); got != 1 {
		t.Fatalf("expected 1 skipped tick, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.SignalIngested(risk.SourceManual)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `corridor_risk_signals_ingested_total{source="manual"} 1`) {
		t.Fatalf("signal counter missing from exposition:\n%s", body)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveRecompute(time.Second, []risk.CorridorState{{Pair: "USD/INR"}})
	r.ObserveProviderQuote("x", "ok", time.Second)
	r.EventDropped("x", "y")
	r.QuoteServed("ok")
	r.TickSkipped()
	r.ObserveHTTP("GET", "/", 200, time.Second)
	if r.Registry() != nil {
		t.Fatal("nil recorder has no registry")
	}
}
