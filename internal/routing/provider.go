package routing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Quote is one provider's offer for a request. Reliability is in [0,1],
// higher is better, and nil when the provider does not report one.
type Quote struct {
	FeePercent  float64  `json:"feePercent"`
	ETASeconds  int      `json:"etaSeconds"`
	Liquidity   float64  `json:"liquidity"`
	Volume      float64  `json:"volume"`
	Reliability *float64 `json:"reliability,omitempty"`
	Route       []string `json:"route,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// RailRisk maps a quote's reliability onto the corridor risk scale, where
// higher is worse. An unreported reliability adds no risk.
func (q Quote) RailRisk() float64 {
	if q.Reliability == nil {
		return 0
	}
	return unit(1 - *q.Reliability)
}

func validReliability(v *float64) bool {
	return v == nil || (*v >= 0 && *v <= 1)
}

// HealthStatus is a coarse provider availability flag.
type HealthStatus string

const (
	HealthOK   HealthStatus = "ok"
	HealthDown HealthStatus = "down"
)

// Health is the result of a provider health probe.
type Health struct {
	Provider  string       `json:"provider"`
	Status    HealthStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// Provider is a quote source for one execution rail.
type Provider interface {
	Name() string
	Supports(req QuoteRequest) bool
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Health(ctx context.Context) Health
}

// Registry holds providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	names     map[string]struct{}
}

// NewRegistry registers the given providers in order.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{})}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a provider. Names must be unique.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.providers = append(r.providers, p)
	return nil
}

// Providers returns every registered provider.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Supporting returns the providers able to serve req, in registration order.
func (r *Registry) Supporting(req QuoteRequest) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Supports(req) {
			out = append(out, p)
		}
	}
	return out
}

// Health probes every provider concurrently, bounded by timeout each.
func (r *Registry) Health(ctx context.Context, timeout time.Duration) []Health {
	providers := r.Providers()
	out := make([]Health, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			hctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			out[i] = p.Health(hctx)
			if out[i].Provider == "" {
				out[i].Provider = p.Name()
			}
		}(i, p)
	}
	wg.Wait()
	return out
}
