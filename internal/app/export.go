package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"corridor-router/internal/risk"
	"corridor-router/internal/storage"
)

// Export renders a corridor's snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	pair := risk.NormalizePair(opts.Pair)
	if pair == "" {
		return errors.New("--pair must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, pair, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("pair", pair).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Str("pair", pair).Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, pair, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.CorridorSnapshot, max int) []storage.CorridorSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}
	if max == 1 {
		return snapshots[len(snapshots)-1:]
	}

	result := make([]storage.CorridorSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.CorridorSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"computed_at", "pair", "base_fee_bps", "adjustment_bps", "total_fee_bps", "risk_score", "in_window", "window_label", "active_signals"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.ComputedAt.UTC().Format(time.RFC3339),
			snap.Pair,
			strconv.Itoa(snap.BaseFeeBps),
			strconv.Itoa(snap.AdjustmentBps),
			strconv.Itoa(snap.TotalFeeBps),
			strconv.FormatFloat(snap.RiskScore, 'f', 4, 64),
			strconv.FormatBool(snap.InWindow),
			snap.WindowLabel,
			strconv.Itoa(snap.ActiveSignals),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path, pair string, snapshots []storage.CorridorSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	adjustment := make([]float64, len(snapshots))
	total := make([]float64, len(snapshots))
	riskScore := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.ComputedAt
		adjustment[i] = float64(snap.AdjustmentBps)
		total[i] = float64(snap.TotalFeeBps)
		riskScore[i] = snap.RiskScore
	}

	bpsFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	riskFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  pair,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Fee (bps)",
			ValueFormatter: bpsFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Risk score",
			ValueFormatter: riskFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total fee",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "Adjustment",
				XValues: x,
				YValues: adjustment,
			},
			chart.TimeSeries{
				Name:    "Risk",
				XValues: x,
				YValues: riskScore,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
