package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"corridor-router/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS corridor_snapshots (
    pair            TEXT        NOT NULL,
    computed_at     TIMESTAMPTZ NOT NULL,
    base_fee_bps    INTEGER     NOT NULL,
    adjustment_bps  INTEGER     NOT NULL,
    total_fee_bps   INTEGER     NOT NULL,
    risk_score      DOUBLE PRECISION NOT NULL,
    in_window       BOOLEAN     NOT NULL DEFAULT FALSE,
    window_label    TEXT        NOT NULL DEFAULT '',
    active_signals  INTEGER     NOT NULL DEFAULT 0,
    PRIMARY KEY (pair, computed_at)
);

CREATE TABLE IF NOT EXISTS risk_signals (
    id           TEXT PRIMARY KEY,
    source       TEXT        NOT NULL,
    corridor     TEXT        NOT NULL DEFAULT '',
    signal_ts    TIMESTAMPTZ NOT NULL,
    magnitude    DOUBLE PRECISION NOT NULL,
    ttl_seconds  BIGINT      NOT NULL DEFAULT 0,
    description  TEXT        NOT NULL DEFAULT '',
    tags         TEXT[]      NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS risk_signals_ts_idx ON risk_signals (signal_ts);

CREATE TABLE IF NOT EXISTS quote_logs (
    id                  BIGSERIAL PRIMARY KEY,
    quoted_at           TIMESTAMPTZ NOT NULL,
    from_network        TEXT        NOT NULL,
    to_network          TEXT        NOT NULL,
    asset               TEXT        NOT NULL,
    amount              NUMERIC     NOT NULL,
    corridor            TEXT        NOT NULL DEFAULT '',
    adjustment_bps      INTEGER     NOT NULL DEFAULT 0,
    route_count         INTEGER     NOT NULL DEFAULT 0,
    best_provider       TEXT        NOT NULL DEFAULT '',
    best_total_fee_pct  NUMERIC     NOT NULL DEFAULT 0,
    failures            JSONB       NOT NULL DEFAULT '[]',
    status              TEXT        NOT NULL,
    error               TEXT
);`

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the audit tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
