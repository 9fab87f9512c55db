package routing

import (
	"fmt"
	"math"
	"sort"
)

// Weights are the composite score weights per dimension.
type Weights struct {
	Fee       float64 `mapstructure:"fee" json:"fee"`
	Latency   float64 `mapstructure:"latency" json:"latency"`
	Liquidity float64 `mapstructure:"liquidity" json:"liquidity"`
	Volume    float64 `mapstructure:"volume" json:"volume"`
}

// DefaultWeights returns 0.40 fee, 0.25 latency, 0.25 liquidity, 0.10 volume.
func DefaultWeights() Weights {
	return Weights{Fee: 0.40, Latency: 0.25, Liquidity: 0.25, Volume: 0.10}
}

// Validate requires non-negative weights summing to 1.
func (w Weights) Validate() error {
	if w.Fee < 0 || w.Latency < 0 || w.Liquidity < 0 || w.Volume < 0 {
		return fmt.Errorf("score weights cannot be negative")
	}
	sum := w.Fee + w.Latency + w.Liquidity + w.Volume
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("score weights must sum to 1, got %.4f", sum)
	}
	return nil
}

const (
	latencyHorizonMinutes = 12.0
	liquidityScale        = 10.0
)

// Candidate is a provider quote awaiting ranking.
type Candidate struct {
	Provider string
	Quote    Quote
}

// ScoredRoute is a ranked candidate.
type ScoredRoute struct {
	Candidate Candidate
	Score     float64
	Rank      int
}

// Scorer computes composite route scores.
type Scorer struct {
	weights Weights
}

// NewScorer builds a scorer; zero weights select the defaults.
func NewScorer(w Weights) (*Scorer, error) {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score returns the composite score in [0,1], rounded to 4 decimals.
func (s *Scorer) Score(q Quote) float64 {
	fee := unit(1 - math.Min(1, q.FeePercent))
	latency := unit(1 - math.Min(1, float64(q.ETASeconds)/60/latencyHorizonMinutes))
	liquidity := unit(math.Min(1, q.Liquidity/liquidityScale))
	volume := unit(math.Min(1, q.Volume))

	score := fee*s.weights.Fee + latency*s.weights.Latency + liquidity*s.weights.Liquidity + volume*s.weights.Volume
	return math.Round(score*10_000) / 10_000
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Rank scores candidates, orders them by score descending and then by
// provider name, and returns at most topK routes. topK <= 0 returns all.
func (s *Scorer) Rank(candidates []Candidate, topK int) []ScoredRoute {
	scored := make([]ScoredRoute, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredRoute{Candidate: c, Score: s.Score(c.Quote)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Candidate.Provider < scored[j].Candidate.Provider
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}
