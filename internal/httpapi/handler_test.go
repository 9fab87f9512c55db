package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"corridor-router/internal/events"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// Saturday, outside every default weekday window.
var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMetrics struct {
	mu       sync.Mutex
	quotes   map[string]int
	ingested int
	requests int
}

func (m *fakeMetrics) SignalIngested(risk.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested++
}

func (m *fakeMetrics) QuoteServed(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quotes == nil {
		m.quotes = make(map[string]int)
	}
	m.quotes[result]++
}

func (m *fakeMetrics) ObserveHTTP(string, string, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
}

type recordingAuditor struct {
	mu     sync.Mutex
	quotes []routing.QuoteRequest
	errs   []error
}

func (a *recordingAuditor) RecordQuote(req routing.QuoteRequest, _ routing.QuoteResult, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes = append(a.quotes, req)
	a.errs = append(a.errs, err)
}

type testEnv struct {
	server  *Server
	engine  *risk.Engine
	bus     *events.Bus
	metrics *fakeMetrics
	auditor *recordingAuditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := events.NewBus(nil, zerolog.Nop())
	t.Cleanup(bus.Close)

	engine, err := risk.NewEngine(risk.Options{
		Corridors: risk.DefaultCorridors(),
		Clock:     func() time.Time { return fixedNow },
		Publisher: bus,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("risk engine: %v", err)
	}

	var providers []routing.Provider
	for _, cfg := range routing.DefaultStaticProviders() {
		p, err := routing.NewStaticProvider(cfg)
		if err != nil {
			t.Fatalf("static provider: %v", err)
		}
		providers = append(providers, p)
	}
	reg, err := routing.NewRegistry(providers...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	router, err := routing.NewEngine(reg, routing.Options{
		Weights: routing.DefaultWeights(),
		Overlay: engine,
		Clock:   func() time.Time { return fixedNow },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("routing engine: %v", err)
	}

	env := &testEnv{engine: engine, bus: bus, metrics: &fakeMetrics{}, auditor: &recordingAuditor{}}
	h, err := NewHandler(Deps{
		Risk:       engine,
		Recomputer: engine,
		Router:     router,
		Providers:  reg,
		Auditor:    env.auditor,
		Metrics:    env.metrics,
		Bus:        bus,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	env.server = NewServer(h, ServerOptions{}, zerolog.Nop())
	return env
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Echo().ServeHTTP(rec, req)

	var out envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, out := env.do(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || out.Status != http.StatusOK {
		t.Fatalf("unexpected status %d/%d", code, out.Status)
	}
}

func TestIngestSignal(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/signals",
		`{"source":"intervention","corridor":"usd/inr","magnitude":0.8,"ttlSeconds":3600,"tags":["rbi"]}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", code, out.Data)
	}
	var sig risk.Signal
	if err := json.Unmarshal(out.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if sig.ID == "" || sig.Corridor != "USD/INR" || sig.TTL != time.Hour {
		t.Fatalf("unexpected signal %+v", sig)
	}
	if !sig.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected engine clock timestamp, got %v", sig.Timestamp)
	}
	if env.metrics.ingested != 1 {
		t.Fatalf("expected ingest to be counted, got %d", env.metrics.ingested)
	}
	if got := len(env.engine.Signals()); got != 1 {
		t.Fatalf("expected 1 stored signal, got %d", got)
	}
}

func TestIngestSignalDefaults(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/signals", `{}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", code, out.Data)
	}
	var sig risk.Signal
	if err := json.Unmarshal(out.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if sig.Source != risk.SourceManual || sig.Magnitude != risk.DefaultMagnitude {
		t.Fatalf("expected manual/0.5 defaults, got %s/%v", sig.Source, sig.Magnitude)
	}
}

func TestIngestSignalRejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown source", `{"source":"rumour"}`, http.StatusBadRequest, "ERR_ONEOF"},
		{"negative magnitude", `{"magnitude":-1}`, http.StatusBadRequest, "ERR_GTE"},
		{"ttl too long", `{"ttlSeconds":9999999}`, http.StatusBadRequest, "ERR_LTE"},
		{"unknown corridor", `{"corridor":"EUR/NGN"}`, http.StatusNotFound, "ERR_UNKNOWN_CORRIDOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code, out := env.do(t, http.MethodPost, "/api/v1/signals", tt.body)
			if code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, code, out.Data)
			}
			var errs []ValidationError
			if err := json.Unmarshal(out.Data, &errs); err != nil {
				t.Fatalf("decode errors: %v", err)
			}
			if len(errs) == 0 || errs[0].Code != tt.code {
				t.Fatalf("expected code %s, got %+v", tt.code, errs)
			}
		})
	}
}

func TestStatesAndRecompute(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodGet, "/api/v1/states/usd/inr", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var st risk.CorridorState
	if err := json.Unmarshal(out.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Pair != "USD/INR" || st.SuggestedAdjustmentBps != 0 {
		t.Fatalf("expected baseline USD/INR, got %+v", st)
	}

	if code, _ := env.do(t, http.MethodPost, "/api/v1/signals",
		`{"source":"liquidity-drain","corridor":"USD/INR","magnitude":2}`); code != http.StatusCreated {
		t.Fatalf("ingest failed with %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/v1/recompute", ""); code != http.StatusOK {
		t.Fatalf("recompute failed with %d", code)
	}

	_, out = env.do(t, http.MethodGet, "/api/v1/states/USD/INR", "")
	if err := json.Unmarshal(out.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.SuggestedAdjustmentBps <= 0 || len(st.ActiveSignals) != 1 {
		t.Fatalf("expected a positive adjustment after recompute, got %+v", st)
	}

	code, out = env.do(t, http.MethodGet, "/api/v1/states", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var list struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(out.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != len(risk.DefaultCorridors()) {
		t.Fatalf("expected %d states, got %d", len(risk.DefaultCorridors()), list.Total)
	}

	if code, _ := env.do(t, http.MethodGet, "/api/v1/states/EUR/NGN", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown corridor, got %d", code)
	}
}

func TestClearAndSeedSignals(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/signals/presets", "")
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	var seeded struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(out.Data, &seeded); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	if seeded.Total != 3 {
		t.Fatalf("expected 3 presets, got %d", seeded.Total)
	}

	code, out = env.do(t, http.MethodDelete, "/api/v1/signals", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var cleared map[string]int
	if err := json.Unmarshal(out.Data, &cleared); err != nil {
		t.Fatalf("decode clear: %v", err)
	}
	if cleared["cleared"] != 3 || len(env.engine.Signals()) != 0 {
		t.Fatalf("expected 3 cleared signals, got %v", cleared)
	}
}

func TestPricing(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/pricing", `{"pair":"usd/inr","amountMinorUnits":100001}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, out.Data)
	}
	var p risk.Pricing
	if err := json.Unmarshal(out.Data, &p); err != nil {
		t.Fatalf("decode pricing: %v", err)
	}
	// 100001 * 70 / 10000 = 700.007, rounded up.
	if p.TotalFeeBps != 70 || p.FeeMinorUnits != 701 {
		t.Fatalf("unexpected pricing %+v", p)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/pricing", `{"pair":"USD/INR","amountMinorUnits":-5}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", code)
	}
	code, _ = env.do(t, http.MethodPost, "/api/v1/pricing", `{"pair":"EUR/NGN","amountMinorUnits":5}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown pair, got %d", code)
	}
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/quote",
		`{"fromNetwork":"ethereum","toNetwork":"base","asset":"USDC","amount":"1000","corridor":"USD/INR"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, out.Data)
	}
	var res routing.QuoteResult
	if err := json.Unmarshal(out.Data, &res); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if len(res.Routes) == 0 || res.Routes[0].Rank != 1 {
		t.Fatalf("expected ranked routes, got %+v", res.Routes)
	}
	if env.metrics.quotes["ok"] != 1 {
		t.Fatalf("expected ok quote to be counted, got %v", env.metrics.quotes)
	}
	if len(env.auditor.quotes) != 1 || env.auditor.quotes[0].FromNetwork != "ETHEREUM" {
		t.Fatalf("expected normalized request to be audited, got %+v", env.auditor.quotes)
	}
}

func TestQuoteRejected(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodPost, "/api/v1/quote", `{"fromNetwork":"ethereum","toNetwork":"base","amount":"1000"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	var errs []ValidationError
	if err := json.Unmarshal(out.Data, &errs); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
	if len(errs) == 0 || errs[0].Field != "asset" {
		t.Fatalf("expected asset field error, got %+v", errs)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/quote", `{"fromNetwork":"bitcoin","toNetwork":"lightning","asset":"BTC","amount":"1"}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when nothing supports the request, got %d", code)
	}
	if env.metrics.quotes["invalid"] != 1 || env.metrics.quotes["no_route"] != 1 {
		t.Fatalf("unexpected quote counters %v", env.metrics.quotes)
	}
	if len(env.auditor.errs) != 2 || env.auditor.errs[1] == nil {
		t.Fatalf("expected failed quotes to be audited, got %v", env.auditor.errs)
	}
}

func TestProvidersAndRates(t *testing.T) {
	env := newTestEnv(t)

	code, out := env.do(t, http.MethodGet, "/api/v1/providers", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var list struct {
		Rows  []routing.Health `json:"rows"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(out.Data, &list); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if list.Total != len(routing.DefaultStaticProviders()) {
		t.Fatalf("expected every provider, got %d", list.Total)
	}

	code, _ = env.do(t, http.MethodGet, "/api/v1/rates/USDINR", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an oracle, got %d", code)
	}
	if env.metrics.requests == 0 {
		t.Fatal("expected requests to be observed")
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Echo())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first risk.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if first.Type != risk.EventStateUpdated || len(first.States) != len(risk.DefaultCorridors()) {
		t.Fatalf("unexpected initial frame %+v", first)
	}

	if _, err := env.engine.IngestSignal(context.Background(), risk.Signal{Source: risk.SourceManual, Magnitude: 1}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var next risk.Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if next.Type != risk.EventSignalIngested || next.Signal == nil {
		t.Fatalf("expected signal_ingested event, got %+v", next)
	}
}
