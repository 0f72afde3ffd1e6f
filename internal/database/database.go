package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the pipeline tables if needed. Keeping the migration in
// code keeps the stack self-contained so docker-compose can bootstrap
// everything.
//
// The partial unique index on evidence.hash is the arbitration point for the
// uniqueness invariant: at most one live (pending/uploading/active) record may
// hold a given hash, and the insert or status flip that violates this fails at
// the database rather than racing in application code.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS evidence (
	id TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	original_file_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_evidence_live_hash
	ON evidence(hash) WHERE status IN ('pending','uploading','active');
CREATE INDEX IF NOT EXISTS idx_evidence_status ON evidence(status);
CREATE INDEX IF NOT EXISTS idx_evidence_storage_path ON evidence(storage_path);

CREATE TABLE IF NOT EXISTS dedup_counters (
	hash TEXT PRIMARY KEY,
	duplicate_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_events (
	seq BIGSERIAL PRIMARY KEY,
	action TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	success BOOLEAN NOT NULL,
	details TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_id, seq);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
