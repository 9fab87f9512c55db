package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pythLatestPath = "/v2/updates/price/latest"

// PythFeed maps a symbol to a Pyth price id.
type PythFeed struct {
	Symbol  string `mapstructure:"symbol"`
	PriceID string `mapstructure:"price_id"`
	Invert  bool   `mapstructure:"invert"`
}

// DefaultPythFeeds returns the stock Pyth FX feeds.
func DefaultPythFeeds() []PythFeed {
	return []PythFeed{
		{Symbol: "CAD", PriceID: "e13b1c1ffb32f34e1be9545583f01ef385fde7f42ee66049d30570dc866b77ca"},
		{Symbol: "EUR", PriceID: "a995d00bb36a63cef7fd2c287dc105fc8f3d93779f062f09551b0af3e81ec30b", Invert: true},
		{Symbol: "GBP", PriceID: "84c2dde9633d93d1bcad84e7dc41c9d56578b7ec52fabedc1f335d673df0a7c1", Invert: true},
		{Symbol: "JPY", PriceID: "ef2c98c804ba503c6a707e38be4dfbb16683775f195b091252bf24693042fd52"},
		{Symbol: "BRL", PriceID: "99e23c0e8953c24e71f91ea5c4e1e7ff13e56b37be6b1b28e8a69aaa7f387735"},
	}
}

// PythOptions parameterise the Hermes REST source.
type PythOptions struct {
	BaseURL   string
	Feeds     []PythFeed
	MaxAge    time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Pyth fetches prices from the Hermes API.
type Pyth struct {
	opts    PythOptions
	feeds   map[string]PythFeed
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	clock   func() time.Time
}

// NewPyth constructs a Pyth source.
func NewPyth(opts PythOptions, logger zerolog.Logger) *Pyth {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}
	if opts.Feeds == nil {
		opts.Feeds = DefaultPythFeeds()
	}
	feeds := make(map[string]PythFeed, len(opts.Feeds))
	for _, f := range opts.Feeds {
		feeds[strings.ToUpper(f.Symbol)] = f
	}
	return &Pyth{
		opts:    opts,
		feeds:   feeds,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "pyth_source").Logger(),
		clock:   time.Now,
	}
}

// Name implements Source.
func (p *Pyth) Name() string { return "pyth" }

type pythResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// Fetch implements Source.
func (p *Pyth) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	feed, ok := p.feeds[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("pyth: %w: %s", ErrUnsupportedSymbol, symbol)
	}

	q := url.Values{}
	q.Set("ids[]", feed.PriceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+pythLatestPath+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "corridor-router/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("pyth api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed pythResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode pyth response: %w", err)
	}
	if len(parsed.Parsed) == 0 {
		return decimal.Decimal{}, fmt.Errorf("pyth %s: empty response", feed.Symbol)
	}

	entry := parsed.Parsed[0].Price
	mantissa, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pyth %s: parse price: %w", feed.Symbol, err)
	}
	if !mantissa.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("pyth %s: non-positive price %s", feed.Symbol, entry.Price)
	}
	if p.opts.MaxAge > 0 && entry.PublishTime > 0 {
		age := p.clock().Sub(time.Unix(entry.PublishTime, 0))
		if age > p.opts.MaxAge {
			return decimal.Decimal{}, fmt.Errorf("pyth %s: price is stale (%s old)", feed.Symbol, age.Round(time.Second))
		}
	}

	value := mantissa.Shift(entry.Expo)
	if feed.Invert {
		value = decimal.NewFromInt(1).DivRound(value, 12)
	}
	p.logger.Debug().Str("symbol", feed.Symbol).Str("value", value.String()).Msg("hermes price")
	return value, nil
}

var _ Source = (*Pyth)(nil)
