package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"corridor-router/internal/storage"
)

// Show prints recent corridor snapshots, or quote audit rows.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Quotes {
		return a.showQuotes(ctx, store, opts.Limit)
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tBase bps\tAdj bps\tTotal bps\tRisk\tWindow\tSignals")
	for _, snap := range snapshots {
		window := "-"
		if snap.InWindow {
			window = sanitizeInline(snap.WindowLabel)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%d\t%.3f\t%s\t%d\n",
			snap.ComputedAt.UTC().Format(time.RFC3339),
			snap.Pair,
			snap.BaseFeeBps,
			snap.AdjustmentBps,
			snap.TotalFeeBps,
			snap.RiskScore,
			window,
			snap.ActiveSignals,
		)
	}

	writer.Flush()
	return nil
}

type quoteLogLister interface {
	ListRecentQuoteLogs(ctx context.Context, limit int) ([]storage.QuoteLog, error)
}

func (a *App) showQuotes(ctx context.Context, store quoteLogLister, limit int) error {
	logs, err := store.ListRecentQuoteLogs(ctx, limit)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Fprintln(a.Out, "no quotes found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tFrom\tTo\tAsset\tAmount\tCorridor\tRoutes\tBest\tTotal fee%\tStatus\tError")
	for _, entry := range logs {
		errMsg := ""
		if entry.Error != nil {
			errMsg = sanitizeInline(*entry.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			entry.QuotedAt.UTC().Format(time.RFC3339),
			entry.FromNetwork,
			entry.ToNetwork,
			entry.Asset,
			entry.Amount.String(),
			entry.Corridor,
			entry.RouteCount,
			entry.BestProvider,
			formatDecimal(entry.BestTotalFeePct, 4),
			entry.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
