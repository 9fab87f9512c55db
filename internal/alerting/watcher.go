package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"corridor-router/internal/events"
	"corridor-router/internal/risk"
)

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	RiskThreshold float64
	AlertOnCap    bool
	Cooldown      time.Duration
	Channels      []string
	// Ceilings holds the effective adjustment ceiling per pair.
	Ceilings map[string]int
	Clock    func() time.Time
}

// Watcher turns corridor state updates into operator notifications,
// at most once per pair and reason within the cooldown.
type Watcher struct {
	opts     WatcherOptions
	notifier Notifier
	mu       sync.Mutex
	lastSent map[string]time.Time
	logger   zerolog.Logger
}

// NewWatcher constructs a Watcher delivering through notifier.
func NewWatcher(opts WatcherOptions, notifier Notifier, logger zerolog.Logger) *Watcher {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Watcher{
		opts:     opts,
		notifier: notifier,
		lastSent: make(map[string]time.Time),
		logger:   logger.With().Str("component", "alert_watcher").Logger(),
	}
}

// Name implements events.Sink.
func (w *Watcher) Name() string { return "alert_watcher" }

// Handle implements events.Sink.
func (w *Watcher) Handle(ctx context.Context, e risk.Event) error {
	if e.Type != risk.EventStateUpdated || w.notifier == nil {
		return nil
	}
	var errs []error
	for _, st := range e.States {
		for _, note := range w.evaluate(st) {
			if !w.claim(note.Pair, note.Reason) {
				continue
			}
			if err := w.notifier.Notify(ctx, note); err != nil {
				w.release(note.Pair, note.Reason)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) evaluate(st risk.CorridorState) []Notification {
	base := Notification{
		Pair:          st.Pair,
		At:            st.LastComputedAt,
		BaseFeeBps:    st.BaseFeeBps,
		AdjustmentBps: st.SuggestedAdjustmentBps,
		TotalFeeBps:   st.TotalFeeBps,
		RiskScore:     st.RiskScore,
		RiskThreshold: w.opts.RiskThreshold,
		WindowLabel:   st.WindowLabel,
		ActiveSignals: len(st.ActiveSignals),
		Channels:      w.opts.Channels,
	}

	var notes []Notification
	if ceiling, ok := w.opts.Ceilings[st.Pair]; ok && w.opts.AlertOnCap && ceiling > 0 && st.SuggestedAdjustmentBps >= ceiling {
		note := base
		note.Reason = ReasonAdjustmentCap
		note.CeilingBps = ceiling
		notes = append(notes, note)
	}
	if w.opts.RiskThreshold > 0 && st.RiskScore >= w.opts.RiskThreshold {
		note := base
		note.Reason = ReasonRiskThreshold
		notes = append(notes, note)
	}
	return notes
}

func (w *Watcher) claim(pair string, reason Reason) bool {
	key := pair + "|" + string(reason)
	now := w.opts.Clock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSent[key]; ok && now.Sub(last) < w.opts.Cooldown {
		w.logger.Debug().Str("pair", pair).Str("reason", string(reason)).Msg("alert suppressed by cooldown")
		return false
	}
	w.lastSent[key] = now
	return true
}

func (w *Watcher) release(pair string, reason Reason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastSent, pair+"|"+string(reason))
}

var _ events.Sink = (*Watcher)(nil)
