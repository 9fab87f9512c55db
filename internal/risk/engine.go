package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCorridor is returned when a pair is not configured.
	ErrUnknownCorridor = errors.New("unknown corridor")
	// ErrInvalidInput marks rejected signals and pricing arguments.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultGlobalMaxAdjustmentBps applies when no global ceiling is configured.
	DefaultGlobalMaxAdjustmentBps = 100
	// DefaultDecayHalfLife is the stock signal half-life.
	DefaultDecayHalfLife = time.Hour
	// DefaultPruneThreshold is the decayed magnitude at or below which signals are dropped.
	DefaultPruneThreshold = 0.01
)

// Options configure an Engine. A nil GlobalMaxAdjustmentBps or DecayHalfLife
// selects the default; an explicit zero is honoured as given.
type Options struct {
	Corridors              []CorridorConfig
	GlobalMaxAdjustmentBps *int
	DecayHalfLife          *time.Duration
	PruneThreshold         float64
	SourceWeights          map[Source]SourceWeight
	WindowPolicy           WindowPolicy
	Clock                  func() time.Time
	Publisher              Publisher
}

// Engine owns the signal set and the corridor snapshots for one process.
type Engine struct {
	corridors []Corridor
	index     map[string]int
	params    Params
	prune     float64
	clock     func() time.Time
	publisher Publisher
	logger    zerolog.Logger

	signals SignalStore
	states  StateStore

	// serializes recomputes
	mu sync.Mutex
}

// NewEngine validates the corridor set and installs baseline states.
func NewEngine(opts Options, logger zerolog.Logger) (*Engine, error) {
	if len(opts.Corridors) == 0 {
		return nil, fmt.Errorf("at least one corridor is required")
	}

	e := &Engine{
		index:     make(map[string]int, len(opts.Corridors)),
		prune:     opts.PruneThreshold,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    logger.With().Str("component", "risk").Logger(),
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	if e.publisher == nil {
		e.publisher = nopPublisher{}
	}
	if e.prune <= 0 {
		e.prune = DefaultPruneThreshold
	}

	for _, cfg := range opts.Corridors {
		c, err := CompileCorridor(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := e.index[c.Pair]; dup {
			return nil, fmt.Errorf("duplicate corridor %s", c.Pair)
		}
		e.index[c.Pair] = len(e.corridors)
		e.corridors = append(e.corridors, c)
	}

	weights := DefaultSourceWeights()
	for src, w := range opts.SourceWeights {
		weights[src] = w
	}

	globalMax := DefaultGlobalMaxAdjustmentBps
	if opts.GlobalMaxAdjustmentBps != nil {
		globalMax = *opts.GlobalMaxAdjustmentBps
	}
	if globalMax < 0 {
		return nil, fmt.Errorf("global max adjustment cannot be negative: %d", globalMax)
	}
	// a non-positive half-life disables decay
	halfLife := DefaultDecayHalfLife
	if opts.DecayHalfLife != nil {
		halfLife = *opts.DecayHalfLife
	}
	policy := opts.WindowPolicy
	if policy == "" {
		policy = WindowPolicyFirstMatch
	}
	e.params = Params{
		HalfLife:               halfLife,
		GlobalMaxAdjustmentBps: globalMax,
		Weights:                weights,
		WindowPolicy:           policy,
	}

	now := e.clock()
	baseline := make(map[string]CorridorState, len(e.corridors))
	for _, c := range e.corridors {
		baseline[c.Pair] = baselineState(c, now)
	}
	e.states.Replace(baseline)

	return e, nil
}

// Params exposes the resolved aggregation parameters.
func (e *Engine) Params() Params { return e.params }

// Corridors returns the compiled corridors in configured order.
func (e *Engine) Corridors() []Corridor {
	out := make([]Corridor, len(e.corridors))
	copy(out, e.corridors)
	return out
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock() }

// Start announces the engine and computes the first snapshot.
func (e *Engine) Start(ctx context.Context) error {
	e.publisher.Publish(ctx, Event{Type: EventStarted, At: e.clock()})
	_, err := e.Recompute(ctx)
	return err
}

// Stop announces the engine is shutting down.
func (e *Engine) Stop(ctx context.Context) {
	e.publisher.Publish(ctx, Event{Type: EventStopped, At: e.clock()})
}

// IngestSignal stores a signal, filling its ID and timestamp when missing.
// It never waits for a recompute.
func (e *Engine) IngestSignal(ctx context.Context, sig Signal) (Signal, error) {
	if math.IsNaN(sig.Magnitude) || math.IsInf(sig.Magnitude, 0) {
		return Signal{}, fmt.Errorf("%w: signal magnitude must be finite", ErrInvalidInput)
	}
	if sig.Magnitude < 0 {
		return Signal{}, fmt.Errorf("%w: signal magnitude cannot be negative", ErrInvalidInput)
	}
	if sig.TTL < 0 {
		return Signal{}, fmt.Errorf("%w: signal ttl cannot be negative", ErrInvalidInput)
	}
	if sig.Source == "" {
		sig.Source = SourceOther
	}
	if _, err := ParseSource(string(sig.Source)); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if sig.Corridor != "" {
		sig.Corridor = NormalizePair(sig.Corridor)
		if _, ok := e.index[sig.Corridor]; !ok {
			return Signal{}, fmt.Errorf("%w: %s", ErrUnknownCorridor, sig.Corridor)
		}
	}
	if sig.Magnitude > MaxMagnitude {
		sig.Magnitude = MaxMagnitude
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.clock()
	}
	if len(sig.Tags) > 0 {
		sig.Tags = append([]string(nil), sig.Tags...)
	}

	e.signals.Append(sig)
	e.logger.Debug().
		Str("signal_id", sig.ID).
		Str("source", string(sig.Source)).
		Str("corridor", sig.Corridor).
		Float64("magnitude", sig.Magnitude).
		Msg("signal ingested")

	published := sig
	e.publisher.Publish(ctx, Event{Type: EventSignalIngested, At: e.clock(), Signal: &published})
	return sig, nil
}

// Signals returns the currently stored signals.
func (e *Engine) Signals() []Signal { return e.signals.Snapshot() }

// Recompute prunes decayed signals and replaces every corridor snapshot.
// Concurrent calls are serialized.
func (e *Engine) Recompute(ctx context.Context) ([]CorridorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	pruned := e.signals.Prune(now, e.params.HalfLife, e.prune)
	signals := e.signals.Snapshot()
	previous := e.states.load()

	next := make(map[string]CorridorState, len(e.corridors))
	ordered := make([]CorridorState, 0, len(e.corridors))
	publish := false
	for _, c := range e.corridors {
		st, err := e.computeCorridor(c, signals, now)
		if err != nil {
			e.logger.Error().Err(err).Str("pair", c.Pair).Msg("corridor recompute failed, keeping previous state")
			if prev, ok := previous[c.Pair]; ok {
				st = prev
			} else {
				st = baselineState(c, now)
			}
		}
		next[c.Pair] = st
		ordered = append(ordered, st)
		if c.PublishEvents {
			publish = true
		}
	}
	e.states.Replace(next)

	e.logger.Debug().
		Int("signals", len(signals)).
		Int("pruned", pruned).
		Int("corridors", len(ordered)).
		Msg("corridor states recomputed")

	if publish {
		e.publisher.Publish(ctx, Event{Type: EventStateUpdated, At: now, States: ordered})
	}
	return ordered, nil
}

func (e *Engine) computeCorridor(c Corridor, signals []Signal, now time.Time) (st CorridorState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !c.Enabled {
		return baselineState(c, now), nil
	}
	st = Aggregate(c, signals, now, e.params)
	if math.IsNaN(st.RiskScore) || math.IsInf(st.RiskScore, 0) {
		return CorridorState{}, fmt.Errorf("non-finite risk score")
	}
	return st, nil
}

// States returns every corridor snapshot sorted by pair.
func (e *Engine) States() []CorridorState { return e.states.All() }

// State returns the snapshot for one pair.
func (e *Engine) State(pair string) (CorridorState, error) {
	pair = NormalizePair(pair)
	st, ok := e.states.Get(pair)
	if !ok {
		return CorridorState{}, fmt.Errorf("%w: %s", ErrUnknownCorridor, pair)
	}
	return st, nil
}

// PricingOptions tweak ComputePricing.
type PricingOptions struct {
	OverrideBaseFeeBps *int
}

// Pricing is the fee quote for an amount on a corridor.
type Pricing struct {
	Pair                 string    `json:"pair"`
	AmountMinorUnits     int64     `json:"amountMinorUnits"`
	BaseFeeBps           int       `json:"baseFeeBps"`
	DynamicAdjustmentBps int       `json:"dynamicAdjustmentBps"`
	TotalFeeBps          int       `json:"totalFeeBps"`
	FeeMinorUnits        int64     `json:"feeMinorUnits"`
	Timestamp            time.Time `json:"timestamp"`
}

var bpsDenominator = decimal.NewFromInt(10_000)

// ComputePricing prices amountMinor against the corridor's current snapshot.
// The fee is rounded up to the next minor unit.
func (e *Engine) ComputePricing(pair string, amountMinor int64, opts PricingOptions) (Pricing, error) {
	pair = NormalizePair(pair)
	idx, ok := e.index[pair]
	if !ok {
		return Pricing{}, fmt.Errorf("%w: %s", ErrUnknownCorridor, pair)
	}
	if amountMinor < 0 {
		return Pricing{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	st, ok := e.states.Get(pair)
	if !ok {
		st = baselineState(e.corridors[idx], e.clock())
	}

	base := st.BaseFeeBps
	if opts.OverrideBaseFeeBps != nil {
		if *opts.OverrideBaseFeeBps < 0 {
			return Pricing{}, fmt.Errorf("%w: override base fee cannot be negative", ErrInvalidInput)
		}
		base = *opts.OverrideBaseFeeBps
	}
	adj := 0
	if e.corridors[idx].DynamicPricing {
		adj = st.SuggestedAdjustmentBps
	}
	total := base + adj

	fee := decimal.NewFromInt(amountMinor).
		Mul(decimal.NewFromInt(int64(total))).
		Div(bpsDenominator).
		Ceil()

	return Pricing{
		Pair:                 pair,
		AmountMinorUnits:     amountMinor,
		BaseFeeBps:           base,
		DynamicAdjustmentBps: adj,
		TotalFeeBps:          total,
		FeeMinorUnits:        fee.IntPart(),
		Timestamp:            e.clock(),
	}, nil
}

// ClearSignals drops every signal and recomputes.
func (e *Engine) ClearSignals(ctx context.Context) (int, error) {
	n := e.signals.Clear()
	_, err := e.Recompute(ctx)
	return n, err
}

// SeedPresets ingests a small set of representative signals for the
// configured default corridors. Presets for unconfigured corridors are skipped.
func (e *Engine) SeedPresets(ctx context.Context) ([]Signal, error) {
	now := e.clock()
	presets := []Signal{
		{
			Source: SourceIntervention, Corridor: "USD/INR", Timestamp: now.Add(-5 * time.Minute),
			Magnitude: 0.8, TTL: 2 * time.Hour, Description: "Pre-market dollar sales chatter",
			Tags: []string{"preset", "rbi"},
		},
		{
			Source: SourcePolicyProgram, Corridor: "USD/PKR", Timestamp: now.Add(-time.Hour),
			Magnitude: 0.6, TTL: 3 * time.Hour, Description: "Staff-level agreement headlines",
			Tags: []string{"preset", "imf"},
		},
		{
			Source: SourcePolicyProgram, Corridor: "GBP/INR", Timestamp: now.Add(-15 * time.Minute),
			Magnitude: 0.4, TTL: 2 * time.Hour, Description: "UPI acceptance expansion commentary",
			Tags: []string{"preset", "uk"},
		},
	}

	seeded := make([]Signal, 0, len(presets))
	for _, p := range presets {
		if _, ok := e.index[p.Corridor]; !ok {
			continue
		}
		sig, err := e.IngestSignal(ctx, p)
		if err != nil {
			return seeded, err
		}
		seeded = append(seeded, sig)
	}
	return seeded, nil
}
