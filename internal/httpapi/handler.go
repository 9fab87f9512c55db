package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"corridor-router/internal/events"
	"corridor-router/internal/oracle"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
	"corridor-router/internal/version"
)

// RiskEngine is the corridor engine surface exposed over HTTP.
type RiskEngine interface {
	IngestSignal(ctx context.Context, sig risk.Signal) (risk.Signal, error)
	Signals() []risk.Signal
	States() []risk.CorridorState
	State(pair string) (risk.CorridorState, error)
	ComputePricing(pair string, amountMinor int64, opts risk.PricingOptions) (risk.Pricing, error)
	ClearSignals(ctx context.Context) (int, error)
	SeedPresets(ctx context.Context) ([]risk.Signal, error)
}

// Recomputer runs an explicit recompute.
type Recomputer interface {
	Recompute(ctx context.Context) ([]risk.CorridorState, error)
}

// Quoter ranks routes for a transfer.
type Quoter interface {
	Quote(ctx context.Context, req routing.QuoteRequest) (routing.QuoteResult, error)
}

// ProviderHealth reports provider liveness.
type ProviderHealth interface {
	Health(ctx context.Context, timeout time.Duration) []routing.Health
}

// RateSource resolves FX reference rates.
type RateSource interface {
	Rate(ctx context.Context, symbol string) (oracle.Rate, error)
}

// QuoteAuditor records quote outcomes.
type QuoteAuditor interface {
	RecordQuote(req routing.QuoteRequest, res routing.QuoteResult, quoteErr error)
}

// Metrics receives API level counters.
type Metrics interface {
	SignalIngested(source risk.Source)
	QuoteServed(result string)
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Deps are the collaborators of the API. Router and Risk are required.
type Deps struct {
	Risk            RiskEngine
	Recomputer      Recomputer
	Router          Quoter
	Providers       ProviderHealth
	Rates           RateSource
	Auditor         QuoteAuditor
	Metrics         Metrics
	Bus             *events.Bus
	HealthTimeout   time.Duration
	WebsocketBuffer int
}

// Handler serves the corridor API.
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps, logger zerolog.Logger) (*Handler, error) {
	if deps.Risk == nil {
		return nil, errors.New("risk engine is required")
	}
	if deps.Router == nil {
		return nil, errors.New("router is required")
	}
	if deps.HealthTimeout <= 0 {
		deps.HealthTimeout = 2 * time.Second
	}
	return &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "http_api").Logger(),
	}, nil
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.health)

	api := e.Group("/api/v1")
	api.GET("/states", h.listStates)
	api.GET("/states/:base/:quote", h.getState)
	api.POST("/recompute", h.recompute)
	api.GET("/signals", h.listSignals)
	api.POST("/signals", h.ingestSignal)
	api.DELETE("/signals", h.clearSignals)
	api.POST("/signals/presets", h.seedPresets)
	api.POST("/pricing", h.pricing)
	api.POST("/quote", h.quote)
	api.GET("/providers", h.providers)
	api.GET("/rates/:symbol", h.rate)
	api.GET("/events", h.streamEvents)
}

func (h *Handler) health(c echo.Context) error {
	return SuccessResponse(c, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (h *Handler) listStates(c echo.Context) error {
	states := h.deps.Risk.States()
	return ListResponse(c, states, len(states))
}

func (h *Handler) getState(c echo.Context) error {
	st, err := h.deps.Risk.State(c.Param("base") + "/" + c.Param("quote"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, st)
}

func (h *Handler) recompute(c echo.Context) error {
	if h.deps.Recomputer == nil {
		return AppErrorResponse(c, NewAppError("ERR_UNAVAILABLE", "recompute is not available", http.StatusServiceUnavailable, nil))
	}
	states, err := h.deps.Recomputer.Recompute(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return ListResponse(c, states, len(states))
}

func (h *Handler) listSignals(c echo.Context) error {
	signals := h.deps.Risk.Signals()
	return ListResponse(c, signals, len(signals))
}

// SignalRequest is the body of POST /api/v1/signals.
type SignalRequest struct {
	Source      string     `json:"source" default:"manual" validate:"required,oneof=manual intervention policy-program market-volatility liquidity-drain spread-widening other"`
	Corridor    string     `json:"corridor" validate:"omitempty,min=3,max=15"`
	Magnitude   *float64   `json:"magnitude" default:"0.5" validate:"required,gte=0"`
	TTLSeconds  int64      `json:"ttlSeconds" validate:"gte=0,lte=604800"`
	Timestamp   *time.Time `json:"timestamp"`
	Description string     `json:"description" validate:"max=500"`
	Tags        []string   `json:"tags" validate:"max=16,dive,max=32"`
}

func (r SignalRequest) signal() risk.Signal {
	sig := risk.Signal{
		Source:      risk.Source(r.Source),
		Corridor:    r.Corridor,
		Magnitude:   *r.Magnitude,
		TTL:         time.Duration(r.TTLSeconds) * time.Second,
		Description: strings.TrimSpace(r.Description),
		Tags:        r.Tags,
	}
	if r.Timestamp != nil {
		sig.Timestamp = r.Timestamp.UTC()
	}
	return sig
}

func (h *Handler) ingestSignal(c echo.Context) error {
	var req SignalRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	sig, err := h.deps.Risk.IngestSignal(c.Request().Context(), req.signal())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SignalIngested(sig.Source)
	}
	return CreatedResponse(c, sig)
}

func (h *Handler) clearSignals(c echo.Context) error {
	n, err := h.deps.Risk.ClearSignals(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, map[string]int{"cleared": n})
}

func (h *Handler) seedPresets(c echo.Context) error {
	seeded, err := h.deps.Risk.SeedPresets(c.Request().Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return CreatedResponse(c, ListDataResponse{Rows: seeded, Total: len(seeded)})
}

// PricingRequest is the body of POST /api/v1/pricing.
type PricingRequest struct {
	Pair               string `json:"pair" validate:"required,min=3,max=15"`
	AmountMinorUnits   int64  `json:"amountMinorUnits" validate:"gte=0"`
	OverrideBaseFeeBps *int   `json:"overrideBaseFeeBps" validate:"omitempty,gte=0,lte=10000"`
}

func (h *Handler) pricing(c echo.Context) error {
	var req PricingRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	p, err := h.deps.Risk.ComputePricing(req.Pair, req.AmountMinorUnits, risk.PricingOptions{OverrideBaseFeeBps: req.OverrideBaseFeeBps})
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, p)
}

func (h *Handler) quote(c echo.Context) error {
	var req routing.QuoteRequest
	if err := c.Bind(&req); err != nil {
		h.countQuote("invalid")
		return BadRequestResponse(c, validationErrors(err))
	}

	res, err := h.deps.Router.Quote(c.Request().Context(), req)
	if h.deps.Auditor != nil {
		h.deps.Auditor.RecordQuote(req.Normalize(), res, err)
	}
	if err != nil {
		var verr *routing.ValidationError
		switch {
		case errors.As(err, &verr):
			h.countQuote("invalid")
		case errors.Is(err, routing.ErrNoRouteAvailable):
			h.countQuote("no_route")
		default:
			h.countQuote("error")
		}
		return AppErrorResponse(c, err)
	}
	h.countQuote("ok")
	return SuccessResponse(c, res)
}

func (h *Handler) countQuote(result string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.QuoteServed(result)
	}
}

func (h *Handler) providers(c echo.Context) error {
	if h.deps.Providers == nil {
		return ListResponse(c, []routing.Health{}, 0)
	}
	health := h.deps.Providers.Health(c.Request().Context(), h.deps.HealthTimeout)
	return ListResponse(c, health, len(health))
}

func (h *Handler) rate(c echo.Context) error {
	if h.deps.Rates == nil {
		return AppErrorResponse(c, NewAppError("ERR_ORACLE_DISABLED", "fx oracle is not configured", http.StatusServiceUnavailable, nil))
	}
	r, err := h.deps.Rates.Rate(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, r)
}
