package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestStaticProviderCoverage(t *testing.T) {
	var tron *StaticProvider
	for _, cfg := range DefaultStaticProviders() {
		p, err := NewStaticProvider(cfg)
		if err != nil {
			t.Fatalf("default provider %s: %v", cfg.Name, err)
		}
		if cfg.Name == "Tron USDT" {
			tron = p
		}
	}

	cases := []struct {
		req  QuoteRequest
		want bool
	}{
		{QuoteRequest{FromNetwork: "TRON", ToNetwork: "ETHEREUM", Asset: "USDT"}, true},
		{QuoteRequest{FromNetwork: "ETHEREUM", ToNetwork: "TRON", Asset: "USDT"}, true},
		{QuoteRequest{FromNetwork: "ETHEREUM", ToNetwork: "BASE", Asset: "USDT"}, false},
		{QuoteRequest{FromNetwork: "TRON", ToNetwork: "TRON", Asset: "USDC"}, false},
	}
	for i, tc := range cases {
		if got := tron.Supports(tc.req); got != tc.want {
			t.Fatalf("case %d: Supports = %v, want %v", i, got, tc.want)
		}
	}
}

func TestStaticProviderDown(t *testing.T) {
	cfg := DefaultStaticProviders()[0]
	cfg.Down = true
	p, _ := NewStaticProvider(cfg)
	if _, err := p.Quote(context.Background(), validRequest()); err == nil {
		t.Fatal("down provider should fail to quote")
	}
	if h := p.Health(context.Background()); h.Status != HealthDown {
		t.Fatalf("expected down health, got %+v", h)
	}
}

func TestNewStaticProviderValidation(t *testing.T) {
	bad := []StaticConfig{
		{},
		{Name: "x", FeePercent: -1, Assets: []string{"USDC"}, Networks: []string{"BASE"}},
		{Name: "x", Assets: []string{"USDC"}},
		{Name: "x", Assets: []string{"USDC"}, Networks: []string{"BASE"}, Reliability: reliability(1.2)},
	}
	for i, cfg := range bad {
		if _, err := NewStaticProvider(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestHTTPProviderQuote(t *testing.T) {
	var got remoteQuoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case remoteQuotePath:
			if r.Header.Get("Authorization") != "Bearer secret" {
				t.Errorf("missing bearer token")
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			_ = json.NewEncoder(w).Encode(Quote{FeePercent: 0.4, ETASeconds: 90, Liquidity: 6, Volume: 0.3, Route: []string{"A", "B"}})
		case remoteHealthPath:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPOptions{
		Name: "remote", BaseURL: srv.URL + "/", Assets: []string{"usdc"}, Networks: []string{"base"},
		APIKey: "secret", Timeout: time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	req := validRequest().Normalize()
	if !p.Supports(req) {
		t.Fatal("provider should support USDC to BASE")
	}
	q, err := p.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.FeePercent != 0.4 || q.ETASeconds != 90 || len(q.Route) != 2 || q.Reliability != nil {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if got.Asset != "USDC" || got.Amount != "1000" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if h := p.Health(context.Background()); h.Status != HealthOK {
		t.Fatalf("expected healthy provider, got %+v", h)
	}
}

func TestHTTPProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "maintenance"})
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPOptions{Name: "remote", BaseURL: srv.URL, Assets: []string{"USDC"}, Networks: []string{"BASE"}}, zerolog.Nop())
	if _, err := p.Quote(context.Background(), QuoteRequest{Asset: "USDC", Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("HTTP 503 should be an error")
	}
	if h := p.Health(context.Background()); h.Status != HealthDown {
		t.Fatalf("expected down, got %+v", h)
	}
}
