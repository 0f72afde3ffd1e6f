package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/store"
)

func seedLive(t *testing.T, s *store.MemoryStore, id, hash string) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &model.Evidence{
		ID:          id,
		Hash:        hash,
		StoragePath: "cases/uncased/" + id + "/f",
		FileSize:    1,
		Status:      model.StatusPending,
	}))
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	idx := NewMemoryIndex(s)

	ev, err := idx.CheckDuplicate(ctx, "abc123")
	require.NoError(t, err)
	require.Nil(t, ev)

	seedLive(t, s, "e1", "abc123")
	ev, err = idx.CheckDuplicate(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "e1", ev.ID)
}

func TestRegisterHashConflict(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	idx := NewMemoryIndex(s)
	seedLive(t, s, "e1", "abc123")

	require.NoError(t, idx.RegisterHash(ctx, "abc123", "e1"))
	// Re-registration by the owner is idempotent.
	require.NoError(t, idx.RegisterHash(ctx, "abc123", "e1"))

	err := idx.RegisterHash(ctx, "abc123", "e2")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "e1", conflict.ExistingID)
	require.Equal(t, "abc123", conflict.Hash)
}

func TestDuplicateCounterMonotonic(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(store.NewMemoryStore())

	n, err := idx.GetDuplicateCount(ctx, "abc123")
	require.NoError(t, err)
	require.Zero(t, n)

	for i := int64(1); i <= 3; i++ {
		n, err = idx.IncrementDuplicateCount(ctx, "abc123")
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
	n, err = idx.GetDuplicateCount(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
