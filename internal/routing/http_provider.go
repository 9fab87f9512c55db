package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	remoteQuotePath  = "/quote"
	remoteHealthPath = "/health"
)

// HTTPOptions parameterise a remote JSON quote provider.
type HTTPOptions struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	Assets    []string      `mapstructure:"assets"`
	Networks  []string      `mapstructure:"networks"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// HTTPProvider fetches quotes from a remote rail API.
type HTTPProvider struct {
	opts     HTTPOptions
	assets   map[string]struct{}
	networks map[string]struct{}
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPProvider constructs a remote provider.
func NewHTTPProvider(opts HTTPOptions, logger zerolog.Logger) (*HTTPProvider, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fmt.Errorf("http provider name is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", opts.Name)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		opts:     opts,
		assets:   upperSet(opts.Assets),
		networks: upperSet(opts.Networks),
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "http_provider").Str("provider", opts.Name).Logger(),
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.opts.Name }

// Supports implements Provider.
func (p *HTTPProvider) Supports(req QuoteRequest) bool {
	return coverage(p.assets, p.networks, req)
}

type remoteQuoteRequest struct {
	FromNetwork string `json:"fromNetwork"`
	ToNetwork   string `json:"toNetwork"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
}

type remoteErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Quote implements Provider.
func (p *HTTPProvider) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	body, err := json.Marshal(remoteQuoteRequest{
		FromNetwork: req.FromNetwork,
		ToNetwork:   req.ToNetwork,
		Asset:       req.Asset,
		Amount:      req.Amount.String(),
	})
	if err != nil {
		return Quote{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+remoteQuotePath, bytes.NewReader(body))
	if err != nil {
		return Quote{}, err
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, p.parseHTTPError(resp.StatusCode, payload)
	}

	var q Quote
	if err := json.Unmarshal(payload, &q); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if q.FeePercent < 0 || q.ETASeconds < 0 {
		return Quote{}, fmt.Errorf("provider %s returned negative fee or eta", p.opts.Name)
	}
	if !validReliability(q.Reliability) {
		return Quote{}, fmt.Errorf("provider %s returned reliability outside 0..1", p.opts.Name)
	}
	p.logger.Debug().Float64("fee_percent", q.FeePercent).Int("eta_seconds", q.ETASeconds).Msg("remote quote received")
	return q, nil
}

// Health implements Provider.
func (p *HTTPProvider) Health(ctx context.Context) Health {
	h := Health{Provider: p.opts.Name, Status: HealthDown, CheckedAt: time.Now().UTC()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+remoteHealthPath, nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.Status = HealthOK
	} else {
		h.Error = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	}
	return h
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "corridor-router/1.0")
	}
	if p.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}
}

func (p *HTTPProvider) parseHTTPError(status int, payload []byte) error {
	var apiErr remoteErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", p.opts.Name, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", p.opts.Name, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", p.opts.Name, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", p.opts.Name, status)
}

var _ Provider = (*HTTPProvider)(nil)
