// Package dedup maintains the content-hash index: the single source of truth
// for whether a piece of content is already known to the system.
package dedup

import (
	"context"
	"fmt"

	"github.com/josephversace/caile-evidence/internal/model"
)

// ConflictError reports that a hash is already registered to a different
// evidence record. The coordinator's reservation step makes this unreachable
// in normal operation; seeing it means the uniqueness invariant was violated
// upstream, which is exactly why it is a distinct type.
type ConflictError struct {
	Hash       string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("hash %s already registered to evidence %s", e.Hash, e.ExistingID)
}

// Index maps content hashes to evidence records. A hash resolves to at most
// one live record at a time; the duplicate counter is independent of the
// authoritative mapping and only ever grows.
type Index interface {
	// CheckDuplicate returns the live record holding hash, or (nil, nil)
	// when the content is unknown.
	CheckDuplicate(ctx context.Context, hash string) (*model.Evidence, error)
	// RegisterHash asserts the hash→evidence mapping at confirm time. It
	// fails with *ConflictError when the hash belongs to another record.
	RegisterHash(ctx context.Context, hash, evidenceID string) error
	// IncrementDuplicateCount bumps and returns the submission counter.
	IncrementDuplicateCount(ctx context.Context, hash string) (int64, error)
	GetDuplicateCount(ctx context.Context, hash string) (int64, error)
}
