package routing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// StaticConfig describes a rail with fixed pricing characteristics.
type StaticConfig struct {
	Name        string   `mapstructure:"name"`
	Type        string   `mapstructure:"type"`
	Assets      []string `mapstructure:"assets"`
	Networks    []string `mapstructure:"networks"`
	FeePercent  float64  `mapstructure:"fee_percent"`
	ETASeconds  int      `mapstructure:"eta_seconds"`
	Liquidity   float64  `mapstructure:"liquidity"`
	Volume      float64  `mapstructure:"volume"`
	Reliability *float64 `mapstructure:"reliability"`
	Down        bool     `mapstructure:"down"`
}

func reliability(v float64) *float64 {
	return &v
}

// DefaultStaticProviders returns the stock bridge and chain rails.
func DefaultStaticProviders() []StaticConfig {
	evm := []string{"ETHEREUM", "BASE", "AVAX", "POLYGON", "ARBITRUM", "OPTIMISM"}
	return []StaticConfig{
		{
			Name: "Circle CCTP", Type: "bridge", Assets: []string{"USDC"}, Networks: evm,
			FeePercent: 0.90, ETASeconds: 180, Liquidity: 9.5, Volume: 0.9, Reliability: reliability(0.95),
		},
		{
			Name: "LayerZero", Type: "bridge", Assets: []string{"USDC", "USDT"}, Networks: append(slices.Clone(evm), "SOLANA"),
			FeePercent: 0.75, ETASeconds: 120, Liquidity: 8.5, Volume: 0.8, Reliability: reliability(0.88),
		},
		{
			Name: "Wormhole", Type: "bridge", Assets: []string{"USDC", "USDT", "ETH"},
			Networks:   []string{"ETHEREUM", "BASE", "AVAX", "POLYGON", "SOLANA"},
			FeePercent: 0.85, ETASeconds: 120, Liquidity: 8, Volume: 0.75, Reliability: reliability(0.85),
		},
		{
			Name: "Stellar XLM", Type: "stellar", Assets: []string{"USDC", "XLM"}, Networks: []string{"STELLAR"},
			FeePercent: 0.35, ETASeconds: 60, Liquidity: 6, Volume: 0.5, Reliability: reliability(0.92),
		},
		{
			Name: "Tron USDT", Type: "tron", Assets: []string{"USDT"}, Networks: []string{"TRON"},
			FeePercent: 0.25, ETASeconds: 60, Liquidity: 7, Volume: 0.7, Reliability: reliability(0.78),
		},
	}
}

// StaticProvider quotes from a fixed rail description.
type StaticProvider struct {
	cfg      StaticConfig
	assets   map[string]struct{}
	networks map[string]struct{}
	clock    func() time.Time
}

// NewStaticProvider validates cfg and builds a provider.
func NewStaticProvider(cfg StaticConfig) (*StaticProvider, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("static provider name is required")
	}
	if cfg.FeePercent < 0 {
		return nil, fmt.Errorf("provider %s: fee_percent cannot be negative", cfg.Name)
	}
	if cfg.ETASeconds < 0 {
		return nil, fmt.Errorf("provider %s: eta_seconds cannot be negative", cfg.Name)
	}
	if len(cfg.Assets) == 0 || len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("provider %s: assets and networks are required", cfg.Name)
	}
	if !validReliability(cfg.Reliability) {
		return nil, fmt.Errorf("provider %s: reliability must be within 0..1", cfg.Name)
	}
	return &StaticProvider{
		cfg:      cfg,
		assets:   upperSet(cfg.Assets),
		networks: upperSet(cfg.Networks),
		clock:    time.Now,
	}, nil
}

func upperSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

// Name implements Provider.
func (p *StaticProvider) Name() string { return p.cfg.Name }

// Supports reports asset support and coverage of either endpoint network.
func (p *StaticProvider) Supports(req QuoteRequest) bool {
	return coverage(p.assets, p.networks, req)
}

func coverage(assets, networks map[string]struct{}, req QuoteRequest) bool {
	if _, ok := assets[strings.ToUpper(req.Asset)]; !ok {
		return false
	}
	_, from := networks[strings.ToUpper(req.FromNetwork)]
	_, to := networks[strings.ToUpper(req.ToNetwork)]
	return from || to
}

// Quote implements Provider.
func (p *StaticProvider) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	if p.cfg.Down {
		return Quote{}, fmt.Errorf("provider %s is down", p.cfg.Name)
	}
	return Quote{
		FeePercent:  p.cfg.FeePercent,
		ETASeconds:  p.cfg.ETASeconds,
		Liquidity:   p.cfg.Liquidity,
		Volume:      p.cfg.Volume,
		Reliability: p.cfg.Reliability,
		Route:       []string{req.FromNetwork, p.cfg.Name, req.ToNetwork},
		Notes:       p.cfg.Type,
	}, nil
}

// Health implements Provider.
func (p *StaticProvider) Health(context.Context) Health {
	h := Health{Provider: p.cfg.Name, Status: HealthOK, CheckedAt: p.clock().UTC()}
	if p.cfg.Down {
		h.Status = HealthDown
		h.Error = "marked down in configuration"
	}
	return h
}

var _ Provider = (*StaticProvider)(nil)
