package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/josephversace/caile-evidence/internal/model"
)

const uniqueViolation = "23505"

// PostgresStore wraps all evidence SQL used by the API and worker.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a freshly reserved record. The partial unique index on hash
// turns a lost reservation race into ErrHashConflict.
func (s *PostgresStore) Create(ctx context.Context, ev *model.Evidence) error {
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	md, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO evidence (id, hash, original_file_name, content_type, file_size, storage_path, status, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ev.ID, ev.Hash, ev.OriginalFileName, ev.ContentType, ev.FileSize, ev.StoragePath, ev.Status, md, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrHashConflict
		}
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Evidence, error) {
	return s.getWhere(ctx, "id=$1", id)
}

// GetByStoragePath resolves an object key back to its record. Storage
// notifications arrive keyed by object, not by evidence id.
func (s *PostgresStore) GetByStoragePath(ctx context.Context, path string) (*model.Evidence, error) {
	return s.getWhere(ctx, "storage_path=$1", path)
}

// FindLiveByHash returns the live record holding hash, if any.
func (s *PostgresStore) FindLiveByHash(ctx context.Context, hash string) (*model.Evidence, error) {
	return s.getWhere(ctx, "hash=$1 AND status = ANY($2)", hash, statusStrings(LiveStatuses))
}

func (s *PostgresStore) getWhere(ctx context.Context, where string, args ...any) (*model.Evidence, error) {
	var (
		ev model.Evidence
		md []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, hash, original_file_name, content_type, file_size, storage_path, status, metadata, created_at, updated_at
		FROM evidence WHERE `+where, args...)
	if err := row.Scan(&ev.ID, &ev.Hash, &ev.OriginalFileName, &ev.ContentType, &ev.FileSize, &ev.StoragePath, &ev.Status, &md, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select evidence: %w", err)
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &ev, nil
}

// SetStatus performs the atomic compare-and-set transition.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, from []model.EvidenceStatus, to model.EvidenceStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE evidence SET status=$1, updated_at=$2
		WHERE id=$3 AND status = ANY($4)
	`, to, time.Now().UTC(), id, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "wrong current status" from "no such record".
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// AppendMetadata merges md into the stored custody bundle under a row lock.
func (s *PostgresStore) AppendMetadata(ctx context.Context, id string, md model.CustodyMetadata) (*model.Evidence, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		ev  model.Evidence
		raw []byte
	)
	row := tx.QueryRow(ctx, `
		SELECT id, hash, original_file_name, content_type, file_size, storage_path, status, metadata, created_at, updated_at
		FROM evidence WHERE id=$1 FOR UPDATE`, id)
	if err := row.Scan(&ev.ID, &ev.Hash, &ev.OriginalFileName, &ev.ContentType, &ev.FileSize, &ev.StoragePath, &ev.Status, &raw, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select evidence: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if key, ok := ev.Metadata.Merge(md); !ok {
		return nil, fmt.Errorf("metadata key %q already set", key)
	}
	ev.UpdatedAt = time.Now().UTC()
	merged, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE evidence SET metadata=$1, updated_at=$2 WHERE id=$3`, merged, ev.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &ev, nil
}

// ListByStatus returns up to limit records in the given status, oldest first,
// which gives the integrity sweep a stable enumeration order.
func (s *PostgresStore) ListByStatus(ctx context.Context, status model.EvidenceStatus, limit int) ([]model.Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hash, original_file_name, content_type, file_size, storage_path, status, metadata, created_at, updated_at
		FROM evidence WHERE status=$1 ORDER BY created_at LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var (
			ev model.Evidence
			md []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Hash, &ev.OriginalFileName, &ev.ContentType, &ev.FileSize, &ev.StoragePath, &ev.Status, &md, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func statusStrings(statuses []model.EvidenceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
