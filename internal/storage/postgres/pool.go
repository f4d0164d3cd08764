// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Schema creates the tables used by ItemStore and ScanStore.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	region        TEXT NOT NULL,
	source        TEXT NOT NULL,
	lens          TEXT NOT NULL,
	language      TEXT NOT NULL,
	title         TEXT NOT NULL,
	body          TEXT NOT NULL,
	url           TEXT NOT NULL,
	requested_url TEXT,
	engagement    INTEGER NOT NULL DEFAULT 0,
	context       TEXT NOT NULL DEFAULT '',
	image_url     TEXT,
	favicon_url   TEXT,
	location_name TEXT,
	lat           DOUBLE PRECISION,
	lng           DOUBLE PRECISION,
	country       TEXT,
	mood_score    DOUBLE PRECISION,
	event_date    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	collected_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE items ADD COLUMN IF NOT EXISTS requested_url TEXT;
CREATE INDEX IF NOT EXISTS items_collected_at_idx ON items (collected_at);

CREATE TABLE IF NOT EXISTS scan_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	item_count    INTEGER,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS scan_regions (
	scan_id     UUID NOT NULL REFERENCES scan_runs (id) ON DELETE CASCADE,
	region      TEXT NOT NULL,
	status      TEXT NOT NULL,
	progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
	items       BIGINT NOT NULL DEFAULT 0,
	errors      BIGINT NOT NULL DEFAULT 0,
	message     TEXT NOT NULL DEFAULT '',
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scan_id, region)
);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
