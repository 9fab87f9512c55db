package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO corridor_snapshots (
        pair,
        computed_at,
        base_fee_bps,
        adjustment_bps,
        total_fee_bps,
        risk_score,
        in_window,
        window_label,
        active_signals
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (pair, computed_at) DO UPDATE
    SET
        base_fee_bps   = EXCLUDED.base_fee_bps,
        adjustment_bps = EXCLUDED.adjustment_bps,
        total_fee_bps  = EXCLUDED.total_fee_bps,
        risk_score     = EXCLUDED.risk_score,
        in_window      = EXCLUDED.in_window,
        window_label   = EXCLUDED.window_label,
        active_signals = EXCLUDED.active_signals;`

	snapshotColumns = `pair,
        computed_at,
        base_fee_bps,
        adjustment_bps,
        total_fee_bps,
        risk_score,
        in_window,
        window_label,
        active_signals`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM corridor_snapshots
    WHERE ($1 = '' OR pair = $1)
      AND computed_at >= $2
      AND computed_at < $3
    ORDER BY computed_at, pair;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM corridor_snapshots
    ORDER BY computed_at DESC, pair
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM corridor_snapshots;`

	deleteSnapshotsBeforeSQL = `DELETE FROM corridor_snapshots WHERE computed_at < $1;`

	insertSignalSQL = `INSERT INTO risk_signals (
        id,
        source,
        corridor,
        signal_ts,
        magnitude,
        ttl_seconds,
        description,
        tags
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING;`

	listSignalsBetweenSQL = `SELECT
        id,
        source,
        corridor,
        signal_ts,
        magnitude,
        ttl_seconds,
        description,
        tags,
        created_at
    FROM risk_signals
    WHERE signal_ts >= $1
      AND signal_ts < $2
    ORDER BY signal_ts, id;`

	insertQuoteLogSQL = `INSERT INTO quote_logs (
        quoted_at,
        from_network,
        to_network,
        asset,
        amount,
        corridor,
        adjustment_bps,
        route_count,
        best_provider,
        best_total_fee_pct,
        failures,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id;`

	listRecentQuoteLogsSQL = `SELECT
        id,
        quoted_at,
        from_network,
        to_network,
        asset,
        amount::text,
        corridor,
        adjustment_bps,
        route_count,
        best_provider,
        best_total_fee_pct::text,
        failures,
        status,
        error
    FROM quote_logs
    ORDER BY quoted_at DESC
    LIMIT $1;`
)

// SnapshotStore persists corridor state history.
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, snapshots []CorridorSnapshot) error
	ListSnapshotsBetween(ctx context.Context, pair string, from, to time.Time) ([]CorridorSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]CorridorSnapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error
}

// SignalArchive persists ingested signals for replay.
type SignalArchive interface {
	InsertSignal(ctx context.Context, rec SignalRecord) error
	ListSignalsBetween(ctx context.Context, from, to time.Time) ([]SignalRecord, error)
}

// QuoteLogStore persists quote audit rows.
type QuoteLogStore interface {
	InsertQuoteLog(ctx context.Context, entry QuoteLog) (int64, error)
	ListRecentQuoteLogs(ctx context.Context, limit int) ([]QuoteLog, error)
}

// Store aggregates access to snapshots, signals and quote logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshots writes one recompute's snapshots in a single batch.
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []CorridorSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(upsertSnapshotSQL,
			snap.Pair,
			snap.ComputedAt,
			snap.BaseFeeBps,
			snap.AdjustmentBps,
			snap.TotalFeeBps,
			snap.RiskScore,
			snap.InWindow,
			snap.WindowLabel,
			snap.ActiveSignals,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range snapshots {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert corridor snapshot: %w", execErr)
		}
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window; an empty pair
// matches every corridor.
func (s *Store) ListSnapshotsBetween(ctx context.Context, pair string, from, to time.Time) ([]CorridorSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, pair, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]CorridorSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListRecentSnapshots lists the most recent snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]CorridorSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]CorridorSnapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// DeleteSnapshotsBefore deletes historical snapshots.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return nil
}

// InsertSignal archives a signal; re-inserting an id is a no-op.
func (s *Store) InsertSignal(ctx context.Context, rec SignalRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	_, execErr := pool.Exec(ctx, insertSignalSQL,
		rec.ID,
		rec.Source,
		rec.Corridor,
		rec.Timestamp,
		rec.Magnitude,
		int64(rec.TTL/time.Second),
		rec.Description,
		tags,
	)
	if execErr != nil {
		return fmt.Errorf("insert signal: %w", execErr)
	}
	return nil
}

// ListSignalsBetween lists archived signals by signal timestamp.
func (s *Store) ListSignalsBetween(ctx context.Context, from, to time.Time) ([]SignalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSignalsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list signals between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]SignalRecord, 0)
	for rows.Next() {
		var (
			rec        SignalRecord
			ttlSeconds int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Source,
			&rec.Corridor,
			&rec.Timestamp,
			&rec.Magnitude,
			&ttlSeconds,
			&rec.Description,
			&rec.Tags,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.TTL = time.Duration(ttlSeconds) * time.Second
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertQuoteLog persists a quote audit row and returns its id.
func (s *Store) InsertQuoteLog(ctx context.Context, entry QuoteLog) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	failures := []byte(entry.Failures)
	if len(failures) == 0 {
		failures = []byte("[]")
	}

	var errMsg interface{}
	if entry.Error != nil {
		errMsg = *entry.Error
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertQuoteLogSQL,
		entry.QuotedAt,
		entry.FromNetwork,
		entry.ToNetwork,
		entry.Asset,
		entry.Amount.String(),
		entry.Corridor,
		entry.AdjustmentBps,
		entry.RouteCount,
		entry.BestProvider,
		entry.BestTotalFeePct.String(),
		failures,
		entry.Status,
		errMsg,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert quote log: %w", scanErr)
	}
	return id, nil
}

// ListRecentQuoteLogs lists the most recent quote audit rows.
func (s *Store) ListRecentQuoteLogs(ctx context.Context, limit int) ([]QuoteLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentQuoteLogsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quote logs: %w", queryErr)
	}
	defer rows.Close()

	logs := make([]QuoteLog, 0, limit)
	for rows.Next() {
		var (
			entry     QuoteLog
			amountStr string
			bestStr   string
			failures  json.RawMessage
			errMsg    *string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.QuotedAt,
			&entry.FromNetwork,
			&entry.ToNetwork,
			&entry.Asset,
			&amountStr,
			&entry.Corridor,
			&entry.AdjustmentBps,
			&entry.RouteCount,
			&entry.BestProvider,
			&bestStr,
			&failures,
			&entry.Status,
			&errMsg,
		); err != nil {
			return nil, err
		}

		var convErr error
		entry.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse quote amount: %w", convErr)
		}
		entry.BestTotalFeePct, convErr = decimal.NewFromString(bestStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse best total fee: %w", convErr)
		}
		entry.Failures = failures
		entry.Error = errMsg
		logs = append(logs, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return logs, nil
}

func scanSnapshot(rows pgx.Rows) (CorridorSnapshot, error) {
	var snap CorridorSnapshot
	if err := rows.Scan(
		&snap.Pair,
		&snap.ComputedAt,
		&snap.BaseFeeBps,
		&snap.AdjustmentBps,
		&snap.TotalFeeBps,
		&snap.RiskScore,
		&snap.InWindow,
		&snap.WindowLabel,
		&snap.ActiveSignals,
	); err != nil {
		return CorridorSnapshot{}, err
	}
	return snap, nil
}

var (
	_ SnapshotStore = (*Store)(nil)
	_ SignalArchive = (*Store)(nil)
	_ QuoteLogStore = (*Store)(nil)
)
