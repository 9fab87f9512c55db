package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrOracleUnavailable means neither the primary nor the fallback source answered.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrDeviationExceeded means primary and fallback disagree beyond the threshold.
	ErrDeviationExceeded = errors.New("oracle deviation exceeded")
	// ErrUnsupportedSymbol is returned by a source without a feed for the symbol.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")
)

// DefaultDeviationThresholdBps is the maximum tolerated primary/fallback gap.
const DefaultDeviationThresholdBps = 50

// DeviationPolicy selects how a primary/fallback disagreement is handled.
type DeviationPolicy string

const (
	// DeviationAdvisory logs the disagreement and serves the primary rate flagged.
	DeviationAdvisory DeviationPolicy = "advisory"
	// DeviationStrict fails the lookup with a *DeviationError.
	DeviationStrict DeviationPolicy = "strict"
)

// ParseDeviationPolicy resolves a policy name; empty selects advisory.
func ParseDeviationPolicy(v string) (DeviationPolicy, error) {
	switch DeviationPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", DeviationAdvisory:
		return DeviationAdvisory, nil
	case DeviationStrict:
		return DeviationStrict, nil
	default:
		return "", fmt.Errorf("unknown deviation policy %q", v)
	}
}

// Source is a single price feed provider. Rates are quoted against USD.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Rate is a resolved oracle answer.
type Rate struct {
	Symbol            string          `json:"symbol"`
	Value             decimal.Decimal `json:"value"`
	Source            string          `json:"source"`
	DeviationBps      decimal.Decimal `json:"deviationBps"`
	DeviationExceeded bool            `json:"deviationExceeded"`
	FetchedAt         time.Time       `json:"fetchedAt"`
	Cached            bool            `json:"cached,omitempty"`
}

// DeviationError carries both prices when the strict policy rejects a lookup.
type DeviationError struct {
	Symbol       string
	Primary      decimal.Decimal
	Fallback     decimal.Decimal
	DeviationBps decimal.Decimal
	ThresholdBps decimal.Decimal
}

func (e *DeviationError) Error() string {
	return fmt.Sprintf("%s: primary %s vs fallback %s deviates %s bps (threshold %s)",
		e.Symbol, e.Primary, e.Fallback, e.DeviationBps.StringFixed(2), e.ThresholdBps)
}

// Unwrap lets errors.Is match ErrDeviationExceeded.
func (e *DeviationError) Unwrap() error { return ErrDeviationExceeded }

var bps = decimal.NewFromInt(10_000)

// ValidateDeviation reports whether fallback lies within thresholdBps of
// primary, along with the measured deviation in basis points.
func ValidateDeviation(primary, fallback, thresholdBps decimal.Decimal) (decimal.Decimal, bool) {
	if primary.IsZero() {
		return decimal.Zero, false
	}
	dev := primary.Sub(fallback).Abs().Div(primary.Abs()).Mul(bps)
	return dev, !dev.GreaterThan(thresholdBps)
}

// Cache stores recently resolved rates.
type Cache interface {
	Get(ctx context.Context, symbol string) (Rate, bool, error)
	Set(ctx context.Context, r Rate) error
}

// Options configure an Oracle.
type Options struct {
	Primary      Source
	Fallback     Source
	Policy       DeviationPolicy
	ThresholdBps float64
	Timeout      time.Duration
	Pegged       []string
	Cache        Cache
	Clock        func() time.Time
}

// Oracle resolves rates from a primary source with a fallback.
type Oracle struct {
	primary   Source
	fallback  Source
	policy    DeviationPolicy
	threshold decimal.Decimal
	timeout   time.Duration
	pegged    map[string]struct{}
	cache     Cache
	clock     func() time.Time
	logger    zerolog.Logger
}

// New builds an Oracle. At least one source is required.
func New(opts Options, logger zerolog.Logger) (*Oracle, error) {
	if opts.Primary == nil && opts.Fallback == nil {
		return nil, fmt.Errorf("oracle needs a primary or fallback source")
	}
	policy := opts.Policy
	if policy == "" {
		policy = DeviationAdvisory
	}
	threshold := opts.ThresholdBps
	if threshold <= 0 {
		threshold = DefaultDeviationThresholdBps
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pegged := opts.Pegged
	if pegged == nil {
		pegged = []string{"USDC", "USDT"}
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	o := &Oracle{
		primary:   opts.Primary,
		fallback:  opts.Fallback,
		policy:    policy,
		threshold: decimal.NewFromFloat(threshold),
		timeout:   timeout,
		pegged:    make(map[string]struct{}, len(pegged)),
		cache:     opts.Cache,
		clock:     clock,
		logger:    logger.With().Str("component", "oracle").Logger(),
	}
	for _, p := range pegged {
		o.pegged[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
	}
	return o, nil
}

// Policy returns the active deviation policy.
func (o *Oracle) Policy() DeviationPolicy { return o.policy }

type sourceResult struct {
	value decimal.Decimal
	err   error
}

// Rate resolves symbol against USD. Pegged stablecoins resolve to 1.
func (o *Oracle) Rate(ctx context.Context, symbol string) (Rate, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Rate{}, fmt.Errorf("symbol is required")
	}
	if _, ok := o.pegged[symbol]; ok {
		return Rate{Symbol: symbol, Value: decimal.NewFromInt(1), Source: "peg", FetchedAt: o.clock()}, nil
	}

	if o.cache != nil {
		cached, ok, err := o.cache.Get(ctx, symbol)
		if err != nil {
			o.logger.Warn().Err(err).Str("symbol", symbol).Msg("rate cache read failed")
		} else if ok {
			cached.Cached = true
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var primary, fallback sourceResult
	var wg sync.WaitGroup
	fetch := func(src Source, out *sourceResult) {
		defer wg.Done()
		if src == nil {
			out.err = errors.New("not configured")
			return
		}
		out.value, out.err = src.Fetch(ctx, symbol)
		if out.err == nil && !out.value.IsPositive() {
			out.err = fmt.Errorf("%s returned non-positive rate %s", src.Name(), out.value)
		}
	}
	wg.Add(2)
	go fetch(o.primary, &primary)
	go fetch(o.fallback, &fallback)
	wg.Wait()

	rate, err := o.resolve(symbol, primary, fallback)
	if err != nil {
		return Rate{}, err
	}

	if o.cache != nil && !rate.DeviationExceeded {
		if err := o.cache.Set(ctx, rate); err != nil {
			o.logger.Warn().Err(err).Str("symbol", symbol).Msg("rate cache write failed")
		}
	}
	return rate, nil
}

func (o *Oracle) resolve(symbol string, primary, fallback sourceResult) (Rate, error) {
	now := o.clock()
	switch {
	case primary.err != nil && fallback.err != nil:
		return Rate{}, fmt.Errorf("%w: %s: primary: %v; fallback: %v", ErrOracleUnavailable, symbol, primary.err, fallback.err)
	case primary.err != nil:
		o.logger.Warn().Err(primary.err).Str("symbol", symbol).Msg("primary source failed, using fallback")
		return Rate{Symbol: symbol, Value: fallback.value, Source: o.fallback.Name(), FetchedAt: now}, nil
	case fallback.err != nil:
		if o.fallback != nil {
			o.logger.Debug().Err(fallback.err).Str("symbol", symbol).Msg("fallback source failed, deviation not checked")
		}
		return Rate{Symbol: symbol, Value: primary.value, Source: o.primary.Name(), FetchedAt: now}, nil
	}

	dev, ok := ValidateDeviation(primary.value, fallback.value, o.threshold)
	rate := Rate{
		Symbol:            symbol,
		Value:             primary.value,
		Source:            o.primary.Name(),
		DeviationBps:      dev.Round(4),
		DeviationExceeded: !ok,
		FetchedAt:         now,
	}
	if ok {
		return rate, nil
	}

	if o.policy == DeviationStrict {
		return Rate{}, &DeviationError{
			Symbol:       symbol,
			Primary:      primary.value,
			Fallback:     fallback.value,
			DeviationBps: dev,
			ThresholdBps: o.threshold,
		}
	}
	o.logger.Warn().
		Str("symbol", symbol).
		Str("primary", primary.value.String()).
		Str("fallback", fallback.value.String()).
		Str("deviation_bps", dev.StringFixed(2)).
		Msg("price deviation above threshold")
	return rate, nil
}

// ReferencePrice returns the USD price of asset.
func (o *Oracle) ReferencePrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	r, err := o.Rate(ctx, asset)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return r.Value, nil
}
