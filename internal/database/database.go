package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureSchema creates the run history tables when missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id          TEXT PRIMARY KEY,
		pipeline    TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		succeeded   BOOLEAN NOT NULL,
		halted_at   TEXT NOT NULL DEFAULT '',
		stages      JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline_started
		ON pipeline_runs (pipeline, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS stage_results (
		run_id      TEXT NOT NULL REFERENCES pipeline_runs (id) ON DELETE CASCADE,
		position    INT NOT NULL,
		name        TEXT NOT NULL,
		status      TEXT NOT NULL,
		required    BOOLEAN NOT NULL,
		exit_code   INT NOT NULL,
		started_at  TIMESTAMPTZ,
		duration_ms BIGINT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS generation_jobs (
		job_id          TEXT PRIMARY KEY,
		handle          TEXT NOT NULL DEFAULT '',
		prompt          TEXT NOT NULL,
		model           TEXT NOT NULL DEFAULT '',
		final_state     TEXT NOT NULL,
		error_kind      TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		artifact_path   TEXT NOT NULL DEFAULT '',
		artifact_ref    TEXT NOT NULL DEFAULT '',
		artifact_bytes  BIGINT NOT NULL DEFAULT 0,
		submit_attempts INT NOT NULL DEFAULT 0,
		polls           INT NOT NULL DEFAULT 0,
		elapsed_ms      BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
