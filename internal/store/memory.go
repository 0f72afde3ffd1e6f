package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/josephversace/caile-evidence/internal/model"
)

// MemoryStore is an in-memory EvidenceStore used by tests and single-node
// development runs. An RWMutex suits the read-heavy API surface.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.Evidence
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.Evidence)}
}

// Create inserts a record, enforcing the live-hash uniqueness the Postgres
// implementation gets from its partial unique index.
func (m *MemoryStore) Create(_ context.Context, ev *model.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.Hash == ev.Hash && isLive(existing.Status) {
			return ErrHashConflict
		}
	}
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	m.records[ev.ID] = copyRecord(ev)
	return nil
}

// Get returns a copy of the record so callers cannot mutate internal state.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

// GetByStoragePath resolves an object key back to its record.
func (m *MemoryStore) GetByStoragePath(_ context.Context, path string) (*model.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.StoragePath == path {
			return copyRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

// FindLiveByHash returns the live record holding hash, if any.
func (m *MemoryStore) FindLiveByHash(_ context.Context, hash string) (*model.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.Hash == hash && isLive(rec.Status) {
			return copyRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

// SetStatus performs the compare-and-set transition under the write lock.
func (m *MemoryStore) SetStatus(_ context.Context, id string, from []model.EvidenceStatus, to model.EvidenceStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false, ErrNotFound
	}
	for _, f := range from {
		if rec.Status == f {
			rec.Status = to
			rec.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

// AppendMetadata merges md into the stored custody bundle.
func (m *MemoryStore) AppendMetadata(_ context.Context, id string, md model.CustodyMetadata) (*model.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if key, ok := rec.Metadata.Merge(md); !ok {
		return nil, fmt.Errorf("metadata key %q already set", key)
	}
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

// ListByStatus returns up to limit records in the given status.
func (m *MemoryStore) ListByStatus(_ context.Context, status model.EvidenceStatus, limit int) ([]model.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Evidence
	for _, rec := range m.records {
		if rec.Status != status {
			continue
		}
		out = append(out, *copyRecord(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// copyRecord detaches a record from the store's internal state. Metadata
// carries a map and a pointer, so the shallow struct copy is not enough.
func copyRecord(rec *model.Evidence) *model.Evidence {
	cp := *rec
	cp.Metadata = rec.Metadata.Clone()
	return &cp
}

func isLive(s model.EvidenceStatus) bool {
	for _, live := range LiveStatuses {
		if s == live {
			return true
		}
	}
	return false
}
