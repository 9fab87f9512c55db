package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog"
)

type fakeCaller struct {
	answer    *big.Int
	updatedAt time.Time
	err       error
}

func (f fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(1), f.answer, big.NewInt(f.updatedAt.Unix()), big.NewInt(f.updatedAt.Unix()), big.NewInt(1),
	)
}

func TestChainlinkFetch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	c := NewChainlink(ChainlinkOptions{MaxAge: time.Hour}, zerolog.Nop())
	c.clock = func() time.Time { return now }

	// USD/JPY at 8 decimals
	c.caller = fakeCaller{answer: big.NewInt(15_012_000_000), updatedAt: now.Add(-time.Minute)}
	v, err := c.Fetch(context.Background(), "JPY")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !v.Equal(dec("150.12")) {
		t.Fatalf("expected 150.12, got %s", v)
	}

	// GBP/USD 1.25 inverted to USD/GBP 0.8
	c.caller = fakeCaller{answer: big.NewInt(125_000_000), updatedAt: now}
	v, err = c.Fetch(context.Background(), "GBP")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !v.Equal(dec("0.8")) {
		t.Fatalf("expected inverted 0.8, got %s", v)
	}
}

func TestChainlinkErrors(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	c := NewChainlink(ChainlinkOptions{MaxAge: time.Hour}, zerolog.Nop())
	c.clock = func() time.Time { return now }

	if _, err := c.Fetch(context.Background(), "INR"); !errors.Is(err, ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
	if _, err := c.Fetch(context.Background(), "JPY"); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	c.caller = fakeCaller{answer: big.NewInt(15_012_000_000), updatedAt: now.Add(-2 * time.Hour)}
	if _, err := c.Fetch(context.Background(), "JPY"); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("expected stale error, got %v", err)
	}
	c.caller = fakeCaller{answer: big.NewInt(0), updatedAt: now}
	if _, err := c.Fetch(context.Background(), "JPY"); err == nil {
		t.Fatal("zero answer should fail")
	}
}

func TestPythFetch(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pythLatestPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("ids[]") == "" {
			t.Errorf("missing price id")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"parsed": []map[string]any{{
				"id": "x",
				"price": map[string]any{
					"price": "136250000", "conf": "1000", "expo": -8, "publish_time": now.Add(-10 * time.Second).Unix(),
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewPyth(PythOptions{BaseURL: srv.URL, MaxAge: time.Minute, Timeout: time.Second}, zerolog.Nop())
	p.clock = func() time.Time { return now }

	v, err := p.Fetch(context.Background(), "CAD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !v.Equal(dec("1.3625")) {
		t.Fatalf("expected 1.3625, got %s", v)
	}

	p.clock = func() time.Time { return now.Add(time.Hour) }
	if _, err := p.Fetch(context.Background(), "CAD"); err == nil {
		t.Fatal("stale price should fail")
	}
}

func TestPythHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPyth(PythOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := p.Fetch(context.Background(), "CAD"); err == nil {
		t.Fatal("HTTP 502 should be an error")
	}
	if _, err := p.Fetch(context.Background(), "XAU"); !errors.Is(err, ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
}

func TestRedisCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisCache(ctx, RedisCacheOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("unreachable redis should fail the ping")
	}
}
