package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corridor-router/internal/risk"
)

const namespace = "corridor"

// Recorder exposes service metrics through its own Prometheus registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	recomputeDuration prometheus.Histogram
	skippedTicks      prometheus.Counter
	adjustmentBps     *prometheus.GaugeVec
	riskScore         *prometheus.GaugeVec
	inWindow          *prometheus.GaugeVec
	activeSignals     *prometheus.GaugeVec
	signalsIngested   *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	providerCalls     *prometheus.CounterVec
	quotes            *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

// New creates a Recorder with Go and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		recomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "recompute_duration_seconds",
			Help:      "Duration of corridor recompute passes",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "skipped_ticks_total",
			Help:      "Scheduler ticks skipped because a recompute was still running",
		}),
		adjustmentBps: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corridor",
			Name:      "adjustment_bps",
			Help:      "Suggested fee adjustment in basis points",
		}, []string{"pair"}),
		riskScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corridor",
			Name:      "risk_score",
			Help:      "Corridor risk score in [0,1]",
		}, []string{"pair"}),
		inWindow: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corridor",
			Name:      "in_sensitive_window",
			Help:      "1 while the corridor is inside a sensitive window",
		}, []string{"pair"}),
		activeSignals: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corridor",
			Name:      "active_signals",
			Help:      "Signals contributing to the corridor overlay",
		}, []string{"pair"}),
		signalsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "signals_ingested_total",
			Help:      "Signals accepted by source",
		}, []string{"source"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "provider_quote_seconds",
			Help:      "Latency of provider quote calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "provider_quotes_total",
			Help:      "Provider quote calls by outcome",
		}, []string{"provider", "outcome"}),
		quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "quotes_total",
			Help:      "Quote requests by result",
		}, []string{"result"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber queue was full",
		}, []string{"subscriber", "type"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRecompute records a recompute pass and the resulting corridor gauges.
func (r *Recorder) ObserveRecompute(elapsed time.Duration, states []risk.CorridorState) {
	if r == nil {
		return
	}
	r.recomputeDuration.Observe(elapsed.Seconds())
	for _, st := range states {
		r.adjustmentBps.WithLabelValues(st.Pair).Set(float64(st.SuggestedAdjustmentBps))
		r.riskScore.WithLabelValues(st.Pair).Set(st.RiskScore)
		r.activeSignals.WithLabelValues(st.Pair).Set(float64(len(st.ActiveSignals)))
		in := 0.0
		if st.InSensitiveWindow {
			in = 1
		}
		r.inWindow.WithLabelValues(st.Pair).Set(in)
	}
}

// TickSkipped counts a scheduler tick dropped while busy.
func (r *Recorder) TickSkipped() {
	if r == nil {
		return
	}
	r.skippedTicks.Inc()
}

// SignalIngested counts an accepted signal.
func (r *Recorder) SignalIngested(source risk.Source) {
	if r == nil {
		return
	}
	r.signalsIngested.WithLabelValues(string(source)).Inc()
}

// ObserveProviderQuote records one provider call.
func (r *Recorder) ObserveProviderQuote(provider, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// QuoteServed counts a quote request by result.
func (r *Recorder) QuoteServed(result string) {
	if r == nil {
		return
	}
	r.quotes.WithLabelValues(result).Inc()
}

// EventDropped counts an event lost to a full subscriber queue.
func (r *Recorder) EventDropped(subscriber, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(subscriber, eventType).Inc()
}

// ObserveHTTP records a served HTTP request.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
