package risk

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// CorridorConfig is static, operator-supplied configuration for one corridor.
// The flags are on unless explicitly set to false.
type CorridorConfig struct {
	Pair             string         `mapstructure:"pair"`
	BaseFeeBps       int            `mapstructure:"base_fee_bps"`
	MaxAdjustmentBps int            `mapstructure:"max_adjustment_bps"`
	Windows          []WindowConfig `mapstructure:"sensitive_windows"`
	Enabled          *bool          `mapstructure:"enabled"`
	DynamicPricing   *bool          `mapstructure:"dynamic_pricing"`
	PublishEvents    *bool          `mapstructure:"publish_events"`
}

// Bool returns a pointer to v, for setting CorridorConfig flags.
func Bool(v bool) *bool {
	return &v
}

func flagOn(v *bool) bool {
	return v == nil || *v
}

// DefaultCorridors returns the stock corridor set with their policy windows.
func DefaultCorridors() []CorridorConfig {
	weekdays := []int{1, 2, 3, 4, 5}
	return []CorridorConfig{
		{
			Pair:             "USD/INR",
			BaseFeeBps:       70,
			MaxAdjustmentBps: 40,
			Windows: []WindowConfig{{
				Label: "RBI pre-open watch", Timezone: "Asia/Kolkata",
				Start: "08:30", End: "10:30", Days: weekdays, BoostBps: 5, RiskWeight: 1.25,
			}},
		},
		{
			Pair:             "USD/PKR",
			BaseFeeBps:       70,
			MaxAdjustmentBps: 60,
			Windows: []WindowConfig{{
				Label: "IMF/PK monitoring", Timezone: "Asia/Karachi",
				Start: "09:00", End: "13:00", Days: weekdays, BoostBps: 6, RiskWeight: 1.35,
			}},
		},
		{
			Pair:             "GBP/INR",
			BaseFeeBps:       70,
			MaxAdjustmentBps: 50,
			Windows: []WindowConfig{{
				Label: "UK policy window", Timezone: "Europe/London",
				Start: "08:00", End: "11:00", Days: weekdays, BoostBps: 4, RiskWeight: 1.15,
			}},
		},
	}
}

// Corridor is a validated corridor with compiled windows.
type Corridor struct {
	Pair             string
	BaseFeeBps       int
	MaxAdjustmentBps int
	Windows          []Window
	Enabled          bool
	DynamicPricing   bool
	PublishEvents    bool
}

// CompileCorridor validates cfg and resolves its windows.
func CompileCorridor(cfg CorridorConfig) (Corridor, error) {
	pair := NormalizePair(cfg.Pair)
	if pair == "" {
		return Corridor{}, fmt.Errorf("corridor pair is required")
	}
	if cfg.BaseFeeBps < 0 {
		return Corridor{}, fmt.Errorf("corridor %s: base_fee_bps cannot be negative", pair)
	}
	if cfg.MaxAdjustmentBps < 0 {
		return Corridor{}, fmt.Errorf("corridor %s: max_adjustment_bps cannot be negative", pair)
	}

	windows := make([]Window, 0, len(cfg.Windows))
	for _, wc := range cfg.Windows {
		w, err := CompileWindow(wc)
		if err != nil {
			return Corridor{}, fmt.Errorf("corridor %s: %w", pair, err)
		}
		windows = append(windows, w)
	}

	return Corridor{
		Pair:             pair,
		BaseFeeBps:       cfg.BaseFeeBps,
		MaxAdjustmentBps: cfg.MaxAdjustmentBps,
		Windows:          windows,
		Enabled:          flagOn(cfg.Enabled),
		DynamicPricing:   flagOn(cfg.DynamicPricing),
		PublishEvents:    flagOn(cfg.PublishEvents),
	}, nil
}

// NormalizePair upper-cases a pair and trims whitespace around its legs.
func NormalizePair(pair string) string {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(pair)), "/")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "/")
}

// CorridorState is the derived, immutable snapshot for one corridor.
type CorridorState struct {
	Pair                   string    `json:"pair"`
	BaseFeeBps             int       `json:"baseFeeBps"`
	SuggestedAdjustmentBps int       `json:"suggestedAdjustmentBps"`
	TotalFeeBps            int       `json:"totalFeeBps"`
	RiskScore              float64   `json:"riskScore"`
	InSensitiveWindow      bool      `json:"inSensitiveWindow"`
	WindowLabel            string    `json:"windowLabel,omitempty"`
	ActiveSignals          []Signal  `json:"activeSignals"`
	LastComputedAt         time.Time `json:"lastComputedAt"`
}

// baselineState is the state of a corridor before any recompute, or while disabled.
func baselineState(c Corridor, at time.Time) CorridorState {
	return CorridorState{
		Pair:           c.Pair,
		BaseFeeBps:     c.BaseFeeBps,
		TotalFeeBps:    c.BaseFeeBps,
		ActiveSignals:  []Signal{},
		LastComputedAt: at,
	}
}

// Params carries the global knobs used by Aggregate.
type Params struct {
	HalfLife               time.Duration
	GlobalMaxAdjustmentBps int
	Weights                map[Source]SourceWeight
	WindowPolicy           WindowPolicy
}

const (
	maxRisk            = 3.0
	maxFeeImpactBps    = 10_000.0
	riskToBpsFactor    = 25.0
	minActiveMagnitude = 0.005
)

// Aggregate combines decayed signals and window effects into a corridor state.
// It is a pure function of its inputs.
func Aggregate(c Corridor, signals []Signal, now time.Time, p Params) CorridorState {
	var risk, impact float64
	active := make([]Signal, 0)
	for _, s := range signals {
		if !s.AppliesTo(c.Pair) {
			continue
		}
		mag := DecayedMagnitude(s, now, p.HalfLife)
		if mag <= minActiveMagnitude {
			continue
		}
		w := weightFor(p.Weights, s.Source)
		risk += w.RiskContribution * mag
		impact += w.FeeImpactBps * mag
		active = append(active, s)
	}

	win := MatchWindows(c.Windows, now, p.WindowPolicy)
	risk = clamp(risk*win.RiskWeight, 0, maxRisk)
	impact = clamp(impact+win.ExtraBps, 0, maxFeeImpactBps)

	riskAdj := int(math.Round(risk * riskToBpsFactor))
	impactAdj := int(math.Round(clamp(impact, 0, float64(c.MaxAdjustmentBps))))

	ceiling := c.MaxAdjustmentBps
	if p.GlobalMaxAdjustmentBps < ceiling {
		ceiling = p.GlobalMaxAdjustmentBps
	}
	if ceiling < 0 {
		ceiling = 0
	}
	suggested := max(riskAdj, impactAdj)
	suggested = min(max(suggested, 0), ceiling)

	total := c.BaseFeeBps
	if c.DynamicPricing {
		total += suggested
	}

	return CorridorState{
		Pair:                   c.Pair,
		BaseFeeBps:             c.BaseFeeBps,
		SuggestedAdjustmentBps: suggested,
		TotalFeeBps:            total,
		RiskScore:              clamp(risk/maxRisk, 0, 1),
		InSensitiveWindow:      win.InWindow,
		WindowLabel:            win.Label,
		ActiveSignals:          active,
		LastComputedAt:         now,
	}
}
