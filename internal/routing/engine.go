package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"corridor-router/internal/risk"
)

// ErrNoRouteAvailable is returned when no provider produced a quote.
var ErrNoRouteAvailable = errors.New("no route available")

const (
	DefaultTopK            = 3
	DefaultProviderTimeout = 3 * time.Second
	DefaultRequestTimeout  = 8 * time.Second
	DefaultMarkupPercent   = 0.7
	defaultFanOutLimit     = 16
)

// CorridorOverlay exposes the current risk overlay of a corridor.
type CorridorOverlay interface {
	State(pair string) (risk.CorridorState, error)
}

// ReferencePricer returns a USD reference price for an asset.
type ReferencePricer interface {
	ReferencePrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Observer is notified about each provider call.
type Observer interface {
	ObserveProviderQuote(provider, outcome string, elapsed time.Duration)
}

// Provider call outcomes reported to an Observer.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Options configure the routing engine.
type Options struct {
	TopK            int
	ProviderTimeout time.Duration
	RequestTimeout  time.Duration
	MarkupPercent   float64
	Weights         Weights
	MaxConcurrency  int
	Overlay         CorridorOverlay
	Pricer          ReferencePricer
	Observer        Observer
	Clock           func() time.Time
}

// Route is one ranked entry of a quote response. RiskScore is the worse of
// the corridor risk and the rail's own risk (1 - reliability).
type Route struct {
	Rank               int             `json:"rank"`
	Provider           string          `json:"provider"`
	ProviderFeePercent float64         `json:"providerFeePercent"`
	TotalFeePercent    decimal.Decimal `json:"totalFeePercent"`
	ETASeconds         int             `json:"etaSeconds"`
	Reliability        *float64        `json:"reliability,omitempty"`
	RiskScore          float64         `json:"riskScore"`
	Score              float64         `json:"score"`
	Route              []string        `json:"route,omitempty"`
	Notes              string          `json:"notes,omitempty"`
}

// ProviderFailure records a provider dropped from a quote.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// QuoteResult is the ranked response for a QuoteRequest.
type QuoteResult struct {
	Request        QuoteRequest      `json:"request"`
	Routes         []Route           `json:"routes"`
	AdjustmentBps  int               `json:"adjustmentBps"`
	CorridorRisk   float64           `json:"corridorRisk"`
	ReferencePrice *decimal.Decimal  `json:"referencePrice,omitempty"`
	Failures       []ProviderFailure `json:"failures,omitempty"`
	QuotedAt       time.Time         `json:"quotedAt"`
}

// Engine fans quote requests out to providers and ranks the results.
type Engine struct {
	registry *Registry
	scorer   *Scorer
	opts     Options
	markup   decimal.Decimal
	logger   zerolog.Logger
}

// NewEngine constructs a routing engine over registry.
func NewEngine(registry *Registry, opts Options, logger zerolog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	scorer, err := NewScorer(opts.Weights)
	if err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MarkupPercent < 0 {
		return nil, fmt.Errorf("markup percent cannot be negative")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultFanOutLimit
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		registry: registry,
		scorer:   scorer,
		opts:     opts,
		markup:   decimal.NewFromFloat(opts.MarkupPercent),
		logger:   logger.With().Str("component", "routing").Logger(),
	}, nil
}

// Registry returns the engine's provider registry.
func (e *Engine) Registry() *Registry { return e.registry }

type providerResult struct {
	quote Quote
	err   error
}

// Quote validates req, fans out to supporting providers and returns the
// top-ranked routes with the corridor overlay folded into the fees.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return QuoteResult{}, err
	}

	var overlay risk.CorridorState
	if req.Corridor != "" {
		if e.opts.Overlay == nil {
			return QuoteResult{}, fmt.Errorf("%w: %s", risk.ErrUnknownCorridor, req.Corridor)
		}
		st, err := e.opts.Overlay.State(req.Corridor)
		if err != nil {
			return QuoteResult{}, err
		}
		overlay = st
		req.Corridor = st.Pair
	}

	providers := e.registry.Supporting(req)
	if len(providers) == 0 {
		return QuoteResult{}, fmt.Errorf("%w: no provider supports %s from %s to %s", ErrNoRouteAvailable, req.Asset, req.FromNetwork, req.ToNetwork)
	}

	candidates, failures, err := e.fanOut(ctx, providers, req)
	if err != nil {
		return QuoteResult{}, err
	}
	if len(candidates) == 0 {
		return QuoteResult{}, fmt.Errorf("%w: all %d providers failed", ErrNoRouteAvailable, len(providers))
	}

	ranked := e.scorer.Rank(candidates, e.opts.TopK)
	adjPercent := decimal.NewFromInt(int64(overlay.SuggestedAdjustmentBps)).Div(decimal.NewFromInt(100))

	result := QuoteResult{
		Request:       req,
		Routes:        make([]Route, 0, len(ranked)),
		AdjustmentBps: overlay.SuggestedAdjustmentBps,
		CorridorRisk:  overlay.RiskScore,
		Failures:      failures,
		QuotedAt:      e.opts.Clock(),
	}
	for _, sr := range ranked {
		q := sr.Candidate.Quote
		total := decimal.NewFromFloat(q.FeePercent).Add(e.markup).Add(adjPercent).Round(4)
		result.Routes = append(result.Routes, Route{
			Rank:               sr.Rank,
			Provider:           sr.Candidate.Provider,
			ProviderFeePercent: q.FeePercent,
			TotalFeePercent:    total,
			ETASeconds:         q.ETASeconds,
			Reliability:        q.Reliability,
			RiskScore:          max(q.RailRisk(), overlay.RiskScore),
			Score:              sr.Score,
			Route:              q.Route,
			Notes:              e.notes(q),
		})
	}

	if e.opts.Pricer != nil {
		price, err := e.opts.Pricer.ReferencePrice(ctx, req.Asset)
		if err != nil {
			e.logger.Warn().Err(err).Str("asset", req.Asset).Msg("reference price unavailable")
		} else {
			result.ReferencePrice = &price
		}
	}

	e.logger.Info().
		Str("asset", req.Asset).
		Str("from", req.FromNetwork).
		Str("to", req.ToNetwork).
		Str("corridor", req.Corridor).
		Int("routes", len(result.Routes)).
		Int("failed", len(failures)).
		Msg("quote served")

	return result, nil
}

func (e *Engine) notes(q Quote) string {
	markup := fmt.Sprintf("protocol markup %s%% included", e.markup.String())
	if q.Notes == "" {
		return markup
	}
	return q.Notes + "; " + markup
}

// fanOut queries providers concurrently. Each call is raced against the
// provider timeout and the whole batch against the request timeout; failed
// providers are dropped. Only caller cancellation fails the batch.
func (e *Engine) fanOut(ctx context.Context, providers []Provider, req QuoteRequest) ([]Candidate, []ProviderFailure, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	results := make([]providerResult, len(providers))
	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxConcurrency)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			results[i] = e.callProvider(reqCtx, p, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	candidates := make([]Candidate, 0, len(providers))
	var failures []ProviderFailure
	for i, p := range providers {
		res := results[i]
		if res.err != nil {
			e.logger.Warn().Err(res.err).Str("provider", p.Name()).Msg("provider dropped from quote")
			failures = append(failures, ProviderFailure{Provider: p.Name(), Reason: res.err.Error()})
			continue
		}
		candidates = append(candidates, Candidate{Provider: p.Name(), Quote: res.quote})
	}
	return candidates, failures, nil
}

func (e *Engine) callProvider(ctx context.Context, p Provider, req QuoteRequest) providerResult {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
	defer cancel()

	done := make(chan providerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- providerResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		q, err := p.Quote(pctx, req)
		done <- providerResult{quote: q, err: err}
	}()

	var res providerResult
	outcome := OutcomeOK
	select {
	case res = <-done:
		if res.err != nil {
			outcome = OutcomeError
			if pctx.Err() != nil {
				outcome = OutcomeTimeout
			}
		}
	case <-pctx.Done():
		res = providerResult{err: fmt.Errorf("provider %s: %w", p.Name(), pctx.Err())}
		outcome = OutcomeTimeout
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveProviderQuote(p.Name(), outcome, time.Since(start))
	}
	return res
}
