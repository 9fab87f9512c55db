package app

import (
	"context"
	"errors"
	"slices"
	"time"

	"corridor-router/internal/risk"
	"corridor-router/internal/storage"
)

const defaultReplayLookback = 24 * time.Hour

// Replay re-runs archived signals over [From, To) with a stepped clock and
// stores the resulting corridor snapshots.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	step := opts.Step
	if step <= 0 {
		step = a.Config.Scheduler.Interval
	}
	if step <= 0 {
		return errors.New("replay step must be greater than zero")
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = defaultReplayLookback
	}

	start := alignForward(opts.From.UTC(), step)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("replay range is empty, check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot replay")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListSignalsBetween(ctx, start.Add(-lookback), end)
	if err != nil {
		return err
	}
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: snapshots will not be written")
	}

	var snapshots snapshotWriter
	if !opts.DryRun {
		snapshots = store
	}
	res, err := a.replay(ctx, records, start, end, step, snapshots)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("signals", res.ingested).
		Int("rejected", res.rejected).
		Int("buckets", res.buckets).
		Int("failed", res.failed).
		Msg("replay finished")
	if res.failed > 0 {
		return errors.New("some buckets failed to persist, check the logs")
	}
	return nil
}

type snapshotWriter interface {
	UpsertSnapshots(ctx context.Context, snapshots []storage.CorridorSnapshot) error
}

type replayResult struct {
	ingested int
	rejected int
	buckets  int
	failed   int
	last     []risk.CorridorState
}

// replay drives an engine bucket by bucket, ingesting each archived signal
// once the stepped clock reaches its timestamp.
func (a *App) replay(ctx context.Context, records []storage.SignalRecord, start, end time.Time, step time.Duration, snapshots snapshotWriter) (replayResult, error) {
	var res replayResult

	slices.SortStableFunc(records, func(x, y storage.SignalRecord) int {
		return x.Timestamp.Compare(y.Timestamp)
	})

	cursor := start
	engine, err := a.newRiskEngine(nil, func() time.Time { return cursor })
	if err != nil {
		return res, err
	}

	next := 0
	for bucket := start; bucket.Before(end); bucket = bucket.Add(step) {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		cursor = bucket

		for next < len(records) && !records[next].Timestamp.After(bucket) {
			if _, err := engine.IngestSignal(ctx, records[next].Signal()); err != nil {
				res.rejected++
				a.Logger.Warn().Err(err).Str("signal_id", records[next].ID).Msg("archived signal rejected")
			} else {
				res.ingested++
			}
			next++
		}

		states, err := engine.Recompute(ctx)
		if err != nil {
			return res, err
		}
		res.buckets++
		res.last = states

		if snapshots == nil {
			continue
		}
		snaps := make([]storage.CorridorSnapshot, 0, len(states))
		for _, st := range states {
			snaps = append(snaps, storage.SnapshotFromState(st))
		}
		if err := snapshots.UpsertSnapshots(ctx, snaps); err != nil {
			res.failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("snapshot write failed")
		}
	}
	return res, nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
