package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/store"
)

// PostgresIndex realizes the index on top of the evidence table's partial
// unique index on hash, so the mapping survives restarts and horizontal
// scaling. Duplicate counters live in their own table because they must keep
// growing even after the original record leaves the live set.
type PostgresIndex struct {
	pool  *pgxpool.Pool
	store *store.PostgresStore
}

// NewPostgresIndex constructs an index sharing the store's pool.
func NewPostgresIndex(pool *pgxpool.Pool, evidence *store.PostgresStore) *PostgresIndex {
	return &PostgresIndex{pool: pool, store: evidence}
}

// CheckDuplicate returns the live record holding hash, if any.
func (i *PostgresIndex) CheckDuplicate(ctx context.Context, hash string) (*model.Evidence, error) {
	ev, err := i.store.FindLiveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	return ev, nil
}

// RegisterHash verifies that the live registration for hash is evidenceID.
// The reservation insert already arbitrated the hash namespace, so any other
// outcome is an invariant violation surfaced as *ConflictError.
func (i *PostgresIndex) RegisterHash(ctx context.Context, hash, evidenceID string) error {
	ev, err := i.store.FindLiveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no live record for hash %s", hash)
	}
	if err != nil {
		return fmt.Errorf("register hash: %w", err)
	}
	if ev.ID != evidenceID {
		return &ConflictError{Hash: hash, ExistingID: ev.ID}
	}
	return nil
}

// IncrementDuplicateCount bumps the submission counter for hash.
func (i *PostgresIndex) IncrementDuplicateCount(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := i.pool.QueryRow(ctx, `
		INSERT INTO dedup_counters (hash, duplicate_count) VALUES ($1, 1)
		ON CONFLICT (hash) DO UPDATE SET duplicate_count = dedup_counters.duplicate_count + 1
		RETURNING duplicate_count
	`, hash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment duplicate count: %w", err)
	}
	return count, nil
}

// GetDuplicateCount returns how many times this content has been resubmitted.
func (i *PostgresIndex) GetDuplicateCount(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := i.pool.QueryRow(ctx, `SELECT duplicate_count FROM dedup_counters WHERE hash=$1`, hash).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown hash means zero submissions, not an error.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get duplicate count: %w", err)
	}
	return count, nil
}
