package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/dedup"
	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
)

type countingGateway struct {
	*objectstore.MemoryGateway
	mu     sync.Mutex
	probes int
}

func (g *countingGateway) ObjectExists(ctx context.Context, path string) (bool, error) {
	g.mu.Lock()
	g.probes++
	g.mu.Unlock()
	return g.MemoryGateway.ObjectExists(ctx, path)
}

type captureEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (c *captureEnqueuer) EnqueueVerify(_ context.Context, evidenceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, evidenceID)
	return nil
}

type env struct {
	store   *store.MemoryStore
	index   *dedup.MemoryIndex
	auditor *audit.MemoryLogger
	gateway *countingGateway
	verify  *captureEnqueuer
	coord   *Coordinator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemoryStore()
	e := &env{
		store:   s,
		index:   dedup.NewMemoryIndex(s),
		auditor: audit.NewMemoryLogger(),
		gateway: &countingGateway{MemoryGateway: objectstore.NewMemoryGateway()},
		verify:  &captureEnqueuer{},
	}
	e.coord = New(e.store, e.index, e.auditor, e.gateway, 30*time.Minute, zerolog.Nop(),
		WithVerifyEnqueuer(e.verify))
	return e
}

func (e *env) initiate(t *testing.T, hash string) *UploadInitiation {
	t.Helper()
	result, err := e.coord.InitiateUpload(context.Background(), InitiateRequest{
		Hash:     hash,
		FileName: "test.pdf",
		FileSize: 1024,
		ActorID:  "investigator-1",
	})
	require.NoError(t, err)
	return result
}

func (e *env) countEvents(action model.AuditAction) int {
	n := 0
	for _, ev := range e.auditor.Events() {
		if ev.Action == action {
			n++
		}
	}
	return n
}

func TestInitiateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.coord.InitiateUpload(ctx, InitiateRequest{Hash: "zz12", FileSize: 1})
	require.ErrorIs(t, err, ErrInvalidHash)

	_, err = e.coord.InitiateUpload(ctx, InitiateRequest{Hash: "", FileSize: 1})
	require.ErrorIs(t, err, ErrInvalidHash)

	_, err = e.coord.InitiateUpload(ctx, InitiateRequest{Hash: "abc123", FileSize: 0})
	require.ErrorIs(t, err, ErrInvalidSize)

	// Rejection happens before any side effect.
	require.Empty(t, e.auditor.Events())
	pending, err := e.store.ListByStatus(ctx, model.StatusPending, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	init := e.initiate(t, "abc123")
	require.Equal(t, StatusInitiated, init.Status)
	require.NotEmpty(t, init.EvidenceID)
	require.NotEmpty(t, init.UploadURL)
	require.True(t, init.UploadURLExpiry.After(time.Now()))
	require.Equal(t, 1, e.countEvents(model.ActionUploadInitiated))

	ev, err := e.store.Get(ctx, init.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, ev.Status)

	// Simulate the client's direct PUT against the presigned URL.
	e.gateway.Put(ev.StoragePath, []byte("evidence bytes"))

	result, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "ABC123", "investigator-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, model.StatusActive, result.Status)
	require.Equal(t, 1, e.countEvents(model.ActionUploadConfirmed))
	require.Equal(t, []string{init.EvidenceID}, e.verify.ids)

	ev, err = e.store.Get(ctx, init.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, ev.Status)
}

func TestConfirmIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	first, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)
	second, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	// The webhook path after explicit confirmation is a no-op success.
	require.True(t, e.coord.HandleStorageNotification(ctx, "caile-evidence", ev.StoragePath, "s3:ObjectCreated:Put"))
	require.Equal(t, 1, e.countEvents(model.ActionUploadConfirmed))
}

func TestWebhookConfirms(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	require.True(t, e.coord.HandleStorageNotification(ctx, "caile-evidence", ev.StoragePath, "s3:ObjectCreated:Put"))
	ev, err := e.store.Get(ctx, init.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, ev.Status)

	// Duplicate deliveries are tolerated.
	require.True(t, e.coord.HandleStorageNotification(ctx, "caile-evidence", ev.StoragePath, "s3:ObjectCreated:Put"))
}

func TestWebhookIgnoresUnknownAndForeignEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.False(t, e.coord.HandleStorageNotification(ctx, "caile-evidence", "cases/x/y/z.bin", "s3:ObjectCreated:Put"))

	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	require.False(t, e.coord.HandleStorageNotification(ctx, "caile-evidence", ev.StoragePath, "s3:ObjectRemoved:Delete"))
}

func TestDuplicateShortCircuit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))
	_, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)

	for i := int64(1); i <= 2; i++ {
		dup := e.initiate(t, "abc123")
		require.Equal(t, StatusDuplicate, dup.Status)
		require.Equal(t, init.EvidenceID, dup.EvidenceID)
		require.NotNil(t, dup.Duplicate)
		require.Equal(t, init.EvidenceID, dup.Duplicate.OriginalEvidenceID)
		require.Equal(t, i, dup.Duplicate.DuplicateCount)
		require.Empty(t, dup.UploadURL)
	}
	require.Equal(t, 2, e.countEvents(model.ActionDuplicateDetected))

	// No second reservation was made.
	pending, err := e.store.ListByStatus(ctx, model.StatusPending, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSecondInitiateWhilePendingFoldsToDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")

	dup := e.initiate(t, "abc123")
	require.Equal(t, StatusDuplicate, dup.Status)
	require.Equal(t, init.EvidenceID, dup.EvidenceID)

	pending, err := e.store.ListByStatus(ctx, model.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestClientHashMismatchFailsWithoutStorage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	result, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "beef01", "investigator-1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, model.StatusFailed, result.Status)
	require.Contains(t, result.Reason, "hash mismatch")
	require.Zero(t, e.gateway.probes)
	require.Equal(t, 1, e.countEvents(model.ActionUploadFailed))
}

func TestConfirmObjectMissing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")

	result, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, model.StatusFailed, result.Status)
	require.Contains(t, result.Reason, "not found in storage")
	require.Equal(t, 1, e.countEvents(model.ActionUploadFailed))
}

func TestConfirmStorageUnavailableIsRetryable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	e.gateway.Unavailable = true
	result, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Reason, "storage unavailable")

	// The record stays live so the caller can retry.
	ev, err = e.store.Get(ctx, init.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, ev.Status)

	e.gateway.Unavailable = false
	result, err = e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestConfirmUnknownEvidence(t *testing.T) {
	e := newEnv(t)
	_, err := e.coord.ConfirmUpload(context.Background(), "missing", "", "investigator-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuditFailureFailsInitiation(t *testing.T) {
	e := newEnv(t)
	e.auditor.FailNext = errors.New("audit sink down")
	_, err := e.coord.InitiateUpload(context.Background(), InitiateRequest{
		Hash: "abc123", FileName: "test.pdf", FileSize: 1024,
	})
	require.ErrorContains(t, err, "audit write failed")
}

func TestAuditFailureFailsConfirm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	e.auditor.FailNext = errors.New("audit sink down")
	_, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.ErrorContains(t, err, "audit write failed")
}

func TestConcurrentInitiateSingleReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		initiated int
		errs      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.coord.InitiateUpload(ctx, InitiateRequest{
				Hash: "abc123", FileName: "test.pdf", FileSize: 1024,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if result.Status == StatusInitiated {
				initiated++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, initiated)
	pending, err := e.store.ListByStatus(ctx, model.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestConcurrentConfirmSingleActivation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		errs      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if result.Success {
				succeeded++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, callers, succeeded)
	require.Equal(t, 1, e.countEvents(model.ActionUploadConfirmed))
	active, err := e.store.ListByStatus(ctx, model.StatusActive, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestAppendMetadataAudited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")

	_, err := e.coord.AppendMetadata(ctx, init.EvidenceID, model.CustodyMetadata{CaseNumber: "CASE-7"}, "supervisor")
	require.NoError(t, err)
	require.Equal(t, 1, e.countEvents(model.ActionMetadataAppended))

	// A clash is rejected and audited as a failed mutation.
	_, err = e.coord.AppendMetadata(ctx, init.EvidenceID, model.CustodyMetadata{CaseNumber: "CASE-8"}, "supervisor")
	require.Error(t, err)
	events := e.auditor.Events()
	last := events[len(events)-1]
	require.Equal(t, model.ActionMetadataAppended, last.Action)
	require.False(t, last.Success)
}

func TestArchiveAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	init := e.initiate(t, "abc123")
	ev, _ := e.store.Get(ctx, init.EvidenceID)
	e.gateway.Put(ev.StoragePath, []byte("data"))
	_, err := e.coord.ConfirmUpload(ctx, init.EvidenceID, "", "investigator-1")
	require.NoError(t, err)

	require.NoError(t, e.coord.Archive(ctx, init.EvidenceID, "supervisor"))
	require.Equal(t, 1, e.countEvents(model.ActionArchived))

	// Archiving twice is rejected; the record is no longer Active.
	require.Error(t, e.coord.Archive(ctx, init.EvidenceID, "supervisor"))

	require.NoError(t, e.coord.Delete(ctx, init.EvidenceID, "supervisor"))
	require.Equal(t, 1, e.countEvents(model.ActionDeleted))
	ev, err = e.store.Get(ctx, init.EvidenceID)
	require.NoError(t, err)
	require.Equal(t, model.StatusDeleted, ev.Status)
}

func TestStoragePathDeterministic(t *testing.T) {
	require.Equal(t, "cases/CASE-7/e1/report.pdf", storagePath("CASE-7", "e1", "report.pdf"))
	require.Equal(t, "cases/uncased/e1/evidence.bin", storagePath("", "e1", ""))
	require.Equal(t, "cases/CASE-7/e1/my_file_1_.pdf", storagePath("CASE-7", "e1", "my file(1).pdf"))
}
