package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/store"
)

// MemoryIndex backs the index with a MemoryStore for tests and standalone
// runs. The store already enforces live-hash uniqueness, so the index only
// carries the registration map and the duplicate counters.
type MemoryIndex struct {
	mu         sync.Mutex
	store      *store.MemoryStore
	registered map[string]string
	counts     map[string]int64
}

// NewMemoryIndex constructs an index over a MemoryStore.
func NewMemoryIndex(evidence *store.MemoryStore) *MemoryIndex {
	return &MemoryIndex{
		store:      evidence,
		registered: make(map[string]string),
		counts:     make(map[string]int64),
	}
}

// CheckDuplicate returns the live record holding hash, if any.
func (i *MemoryIndex) CheckDuplicate(ctx context.Context, hash string) (*model.Evidence, error) {
	ev, err := i.store.FindLiveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// RegisterHash records the hash→evidence mapping at confirm time.
func (i *MemoryIndex) RegisterHash(ctx context.Context, hash, evidenceID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.registered[hash]; ok && existing != evidenceID {
		return &ConflictError{Hash: hash, ExistingID: existing}
	}
	live, err := i.store.FindLiveByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no live record for hash %s", hash)
	}
	if err != nil {
		return err
	}
	if live.ID != evidenceID {
		return &ConflictError{Hash: hash, ExistingID: live.ID}
	}
	i.registered[hash] = evidenceID
	return nil
}

// IncrementDuplicateCount bumps the submission counter for hash.
func (i *MemoryIndex) IncrementDuplicateCount(_ context.Context, hash string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.counts[hash]++
	return i.counts[hash], nil
}

// GetDuplicateCount returns the submission counter for hash.
func (i *MemoryIndex) GetDuplicateCount(_ context.Context, hash string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.counts[hash], nil
}
