package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// Quote ranks routes for one transfer against a freshly computed overlay.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	engine, err := a.newOfflineEngine(ctx, opts.Seed)
	if err != nil {
		return err
	}

	orc, closeOracle, err := a.newOracle(ctx)
	if err != nil {
		return err
	}
	if closeOracle != nil {
		defer closeOracle()
	}

	var pricer routing.ReferencePricer
	if orc != nil {
		pricer = orc
	}
	router, err := a.newRouter(engine, pricer, nil)
	if err != nil {
		return err
	}

	res, err := router.Quote(ctx, opts.Request)
	if err != nil {
		return err
	}
	if opts.JSON {
		return a.printJSON(res)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tProvider\tProvider fee%\tTotal fee%\tETA (s)\tRisk\tScore\tRoute")
	for _, r := range res.Routes {
		fmt.Fprintf(writer, "%d\t%s\t%.2f\t%s\t%d\t%.2f\t%.4f\t%s\n",
			r.Rank,
			r.Provider,
			r.ProviderFeePercent,
			r.TotalFeePercent.StringFixed(4),
			r.ETASeconds,
			r.RiskScore,
			r.Score,
			strings.Join(r.Route, " -> "),
		)
	}
	writer.Flush()

	if res.Request.Corridor != "" {
		fmt.Fprintf(a.Out, "corridor %s: adjustment %d bps, risk %.2f\n", res.Request.Corridor, res.AdjustmentBps, res.CorridorRisk)
	}
	if res.ReferencePrice != nil {
		fmt.Fprintf(a.Out, "reference price %s: %s USD\n", res.Request.Asset, res.ReferencePrice.String())
	}
	for _, f := range res.Failures {
		fmt.Fprintf(a.Out, "skipped %s: %s\n", f.Provider, f.Reason)
	}
	return nil
}

// Pricing prints the fee for an amount on a corridor.
func (a *App) Pricing(ctx context.Context, opts PricingOptions) error {
	engine, err := a.newOfflineEngine(ctx, opts.Seed)
	if err != nil {
		return err
	}
	p, err := engine.ComputePricing(opts.Pair, opts.AmountMinorUnits, risk.PricingOptions{OverrideBaseFeeBps: opts.OverrideBaseFeeBps})
	if err != nil {
		return err
	}
	return a.printJSON(p)
}

// States prints every corridor snapshot.
func (a *App) States(ctx context.Context, seed bool) error {
	engine, err := a.newOfflineEngine(ctx, seed)
	if err != nil {
		return err
	}
	a.printStates(engine.States())
	return nil
}

// Simulate seeds the preset signals plus any extra ones, recomputes and
// prints the result. With Alert set the states go through the alert watcher.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	engine, err := a.newRiskEngine(nil, nil)
	if err != nil {
		return err
	}
	if _, err := engine.SeedPresets(ctx); err != nil {
		return err
	}
	for _, sig := range opts.Signals {
		if _, err := engine.IngestSignal(ctx, sig); err != nil {
			return err
		}
	}
	states, err := engine.Recompute(ctx)
	if err != nil {
		return err
	}
	a.printStates(states)

	if !opts.Alert {
		return nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return fmt.Errorf("no alert channel configured")
	}
	watcher := a.newWatcher(engine, notifier)
	return watcher.Handle(ctx, risk.Event{Type: risk.EventStateUpdated, At: engine.Now(), States: states})
}

// Providers probes every configured provider.
func (a *App) Providers(ctx context.Context) error {
	reg, err := a.newRegistry()
	if err != nil {
		return err
	}
	health := reg.Health(ctx, a.Config.Routing.ProviderTimeout)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Provider\tStatus\tChecked (UTC)\tError")
	for _, h := range health {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			h.Provider,
			h.Status,
			h.CheckedAt.UTC().Format(time.RFC3339),
			sanitizeInline(h.Error),
		)
	}
	writer.Flush()
	return nil
}

func (a *App) printStates(states []risk.CorridorState) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tBase bps\tAdj bps\tTotal bps\tRisk\tWindow\tSignals")
	for _, st := range states {
		window := "-"
		if st.InSensitiveWindow {
			window = st.WindowLabel
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%.3f\t%s\t%d\n",
			st.Pair,
			st.BaseFeeBps,
			st.SuggestedAdjustmentBps,
			st.TotalFeeBps,
			st.RiskScore,
			window,
			len(st.ActiveSignals),
		)
	}
	writer.Flush()
}

func (a *App) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
