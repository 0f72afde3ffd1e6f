// Package store persists evidence records and their lifecycle status.
package store

import (
	"context"
	"errors"

	"github.com/josephversace/caile-evidence/internal/model"
)

var (
	// ErrNotFound is returned when no evidence record exists for an id or
	// storage path.
	ErrNotFound = errors.New("evidence not found")
	// ErrHashConflict is returned when inserting a record whose hash already
	// belongs to a live (pending/uploading/active) record.
	ErrHashConflict = errors.New("hash already reserved by a live record")
)

// LiveStatuses are the statuses that occupy the hash namespace. At most one
// record per hash may be in any of them at a time.
var LiveStatuses = []model.EvidenceStatus{
	model.StatusPending,
	model.StatusUploading,
	model.StatusActive,
}

// EvidenceStore is the durable table of evidence entities. Implementations
// must make Create fail with ErrHashConflict when the hash is already live,
// and SetStatus must be an atomic compare-and-set on a single record.
type EvidenceStore interface {
	Create(ctx context.Context, ev *model.Evidence) error
	Get(ctx context.Context, id string) (*model.Evidence, error)
	GetByStoragePath(ctx context.Context, path string) (*model.Evidence, error)
	// FindLiveByHash returns the live record holding hash, or ErrNotFound.
	FindLiveByHash(ctx context.Context, hash string) (*model.Evidence, error)
	// SetStatus flips id from one of the expected statuses to the target
	// status. It returns false (and no error) when the record exists but its
	// current status is not in from; this is how concurrent confirms detect
	// they lost.
	SetStatus(ctx context.Context, id string, from []model.EvidenceStatus, to model.EvidenceStatus) (bool, error)
	// AppendMetadata merges additional custody metadata into the record.
	// Populated values are never overwritten; a clash fails the append.
	AppendMetadata(ctx context.Context, id string, md model.CustodyMetadata) (*model.Evidence, error)
	ListByStatus(ctx context.Context, status model.EvidenceStatus, limit int) ([]model.Evidence, error)
}
