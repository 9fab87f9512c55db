package routing

import "testing"

func TestScoreMonotonicInFee(t *testing.T) {
	s, err := NewScorer(Weights{})
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	base := Quote{FeePercent: 0.6, ETASeconds: 120, Liquidity: 7, Volume: 0.5}
	cheaper := base
	cheaper.FeePercent = 0.3

	if s.Score(cheaper) <= s.Score(base) {
		t.Fatalf("lower fee must score strictly higher: %v vs %v", s.Score(cheaper), s.Score(base))
	}
}

func TestScoreKnownValue(t *testing.T) {
	s, _ := NewScorer(DefaultWeights())
	// fee 0.75*0.40 + latency (1-2/12)*0.25 + liquidity 0.85*0.25 + volume 0.8*0.10
	q := Quote{FeePercent: 0.25, ETASeconds: 120, Liquidity: 8.5, Volume: 0.8}
	if got := s.Score(q); got != 0.8008 {
		t.Fatalf("expected 0.8008, got %v", got)
	}
}

func TestScoreBounded(t *testing.T) {
	s, _ := NewScorer(DefaultWeights())
	cases := []Quote{
		{FeePercent: 5, ETASeconds: 100000, Liquidity: -3, Volume: -1},
		{FeePercent: -1, ETASeconds: 0, Liquidity: 400, Volume: 9},
	}
	for _, q := range cases {
		got := s.Score(q)
		if got < 0 || got > 1 {
			t.Fatalf("score out of [0,1]: %v for %+v", got, q)
		}
	}
}

func TestRankTieBreaksByProviderName(t *testing.T) {
	s, _ := NewScorer(DefaultWeights())
	q := Quote{FeePercent: 0.5, ETASeconds: 60, Liquidity: 5, Volume: 0.5}
	ranked := s.Rank([]Candidate{
		{Provider: "Wormhole", Quote: q},
		{Provider: "Allbridge", Quote: q},
		{Provider: "LayerZero", Quote: q},
		{Provider: "Tron USDT", Quote: Quote{FeePercent: 0.1, ETASeconds: 30, Liquidity: 9, Volume: 0.9}},
	}, 3)

	if len(ranked) != 3 {
		t.Fatalf("expected top 3, got %d", len(ranked))
	}
	want := []string{"Tron USDT", "Allbridge", "LayerZero"}
	for i, r := range ranked {
		if r.Candidate.Provider != want[i] || r.Rank != i+1 {
			t.Fatalf("position %d: got %s rank %d, want %s", i, r.Candidate.Provider, r.Rank, want[i])
		}
	}
}

func TestWeightsValidate(t *testing.T) {
	if _, err := NewScorer(Weights{Fee: 0.5, Latency: 0.5, Liquidity: 0.5}); err == nil {
		t.Fatal("weights not summing to 1 should be rejected")
	}
	if _, err := NewScorer(Weights{Fee: 1.2, Latency: -0.2}); err == nil {
		t.Fatal("negative weights should be rejected")
	}
}
