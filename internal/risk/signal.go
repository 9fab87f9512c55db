package risk

import (
	"fmt"
	"strings"
	"time"
)

// Source classifies where a risk signal came from.
type Source string

const (
	SourceManual           Source = "manual"
	SourceIntervention     Source = "intervention"
	SourcePolicyProgram    Source = "policy-program"
	SourceMarketVolatility Source = "market-volatility"
	SourceLiquidityDrain   Source = "liquidity-drain"
	SourceSpreadWidening   Source = "spread-widening"
	SourceOther            Source = "other"
)

// MaxMagnitude is the hard cap applied to signal magnitudes.
const MaxMagnitude = 5.0

// DefaultMagnitude is used when a caller does not provide one.
const DefaultMagnitude = 0.5

// AllSources lists every known source in a stable order.
func AllSources() []Source {
	return []Source{
		SourceManual,
		SourceIntervention,
		SourcePolicyProgram,
		SourceMarketVolatility,
		SourceLiquidityDrain,
		SourceSpreadWidening,
		SourceOther,
	}
}

// ParseSource resolves a source name, case-insensitively.
func ParseSource(v string) (Source, error) {
	candidate := Source(strings.ToLower(strings.TrimSpace(v)))
	for _, s := range AllSources() {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown signal source %q", v)
}

// Signal is an immutable, timestamped risk observation.
type Signal struct {
	ID          string        `json:"id"`
	Source      Source        `json:"source"`
	Corridor    string        `json:"corridor,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Magnitude   float64       `json:"magnitude"`
	TTL         time.Duration `json:"ttl,omitempty"`
	Description string        `json:"description,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
}

// AppliesTo reports whether the signal targets the given corridor.
// Signals without a corridor apply everywhere.
func (s Signal) AppliesTo(pair string) bool {
	return s.Corridor == "" || s.Corridor == pair
}

// SourceWeight maps a decayed magnitude to fee impact and risk.
type SourceWeight struct {
	FeeImpactBps     float64 `mapstructure:"fee_impact_bps" json:"feeImpactBps"`
	RiskContribution float64 `mapstructure:"risk_contribution" json:"riskContribution"`
}

// DefaultSourceWeights returns the stock weight table.
func DefaultSourceWeights() map[Source]SourceWeight {
	return map[Source]SourceWeight{
		SourceManual:           {FeeImpactBps: 5, RiskContribution: 0.05},
		SourceIntervention:     {FeeImpactBps: 12, RiskContribution: 0.12},
		SourcePolicyProgram:    {FeeImpactBps: 9, RiskContribution: 0.10},
		SourceMarketVolatility: {FeeImpactBps: 10, RiskContribution: 0.15},
		SourceLiquidityDrain:   {FeeImpactBps: 14, RiskContribution: 0.18},
		SourceSpreadWidening:   {FeeImpactBps: 11, RiskContribution: 0.14},
		SourceOther:            {FeeImpactBps: 6, RiskContribution: 0.06},
	}
}

// weightFor looks up a source weight, falling back to the "other" entry.
func weightFor(weights map[Source]SourceWeight, src Source) SourceWeight {
	if w, ok := weights[src]; ok {
		return w
	}
	return weights[SourceOther]
}
