package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/hashing"
	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
)

type captureAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *captureAlerter) Alert(_ context.Context, evidenceID, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, evidenceID+": "+reason)
	return nil
}

func (a *captureAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type env struct {
	store   *store.MemoryStore
	gateway *objectstore.MemoryGateway
	auditor *audit.MemoryLogger
	alerter *captureAlerter
	monitor *Monitor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   store.NewMemoryStore(),
		gateway: objectstore.NewMemoryGateway(),
		auditor: audit.NewMemoryLogger(),
		alerter: &captureAlerter{},
	}
	e.monitor = New(e.store, e.gateway, e.auditor, e.alerter, time.Hour, zerolog.Nop())
	return e
}

// seedActive stores an Active record whose object content matches its hash.
func (e *env) seedActive(t *testing.T, id string, content []byte) *model.Evidence {
	t.Helper()
	ev := &model.Evidence{
		ID:          id,
		Hash:        hashing.SumBytes(content),
		FileSize:    int64(len(content)),
		StoragePath: "cases/uncased/" + id + "/f.bin",
		Status:      model.StatusActive,
	}
	require.NoError(t, e.store.Create(context.Background(), ev))
	e.gateway.Put(ev.StoragePath, content)
	return ev
}

func TestSweepIntactRecords(t *testing.T) {
	e := newEnv(t)
	e.seedActive(t, "e1", []byte("alpha"))
	e.seedActive(t, "e2", []byte("beta"))

	checked, compromised := e.monitor.Sweep(context.Background())
	require.Equal(t, 2, checked)
	require.Zero(t, compromised)
	require.Empty(t, e.auditor.Events())
	require.Zero(t, e.alerter.count())
}

func TestSweepFlagsMutatedObject(t *testing.T) {
	e := newEnv(t)
	ev := e.seedActive(t, "e1", []byte("original"))
	// Out-of-band mutation of the stored object.
	e.gateway.Put(ev.StoragePath, []byte("tampered"))

	_, compromised := e.monitor.Sweep(context.Background())
	require.Equal(t, 1, compromised)

	got, err := e.store.Get(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompromised, got.Status)

	events := e.auditor.Events()
	require.Len(t, events, 1)
	require.Equal(t, model.ActionIntegrityFailed, events[0].Action)
	require.False(t, events[0].Success)
	require.Contains(t, events[0].Details, ev.Hash)
	require.Equal(t, 1, e.alerter.count())

	// The record left the Active set, so the next sweep emits nothing new.
	_, compromised = e.monitor.Sweep(context.Background())
	require.Zero(t, compromised)
	require.Len(t, e.auditor.Events(), 1)
}

func TestUnreachableObjectEscalatesWithoutStatusChange(t *testing.T) {
	e := newEnv(t)
	e.seedActive(t, "e1", []byte("alpha"))
	e.gateway.Unavailable = true

	for i := 0; i < escalateAfter; i++ {
		e.monitor.Sweep(context.Background())
	}
	require.Equal(t, 1, e.alerter.count())

	// An inaccessible store is not proof of compromise.
	got, err := e.store.Get(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, got.Status)
	require.Empty(t, e.auditor.Events())

	// Recovery clears the consecutive-failure count.
	e.gateway.Unavailable = false
	checked, compromised := e.monitor.Sweep(context.Background())
	require.Equal(t, 1, checked)
	require.Zero(t, compromised)

	e.gateway.Unavailable = true
	for i := 0; i < escalateAfter-1; i++ {
		e.monitor.Sweep(context.Background())
	}
	require.Equal(t, 1, e.alerter.count())
}

func TestCheckSkipsForeignDigests(t *testing.T) {
	e := newEnv(t)
	ev := &model.Evidence{
		ID:          "e1",
		Hash:        "abc123",
		FileSize:    1,
		StoragePath: "cases/uncased/e1/f.bin",
		Status:      model.StatusActive,
	}
	require.NoError(t, e.store.Create(context.Background(), ev))

	require.NoError(t, e.monitor.Check(context.Background(), ev))
	got, err := e.store.Get(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, got.Status)
}

func TestCheckByIDSkipsNonActive(t *testing.T) {
	e := newEnv(t)
	ev := e.seedActive(t, "e1", []byte("alpha"))
	_, err := e.store.SetStatus(context.Background(), ev.ID, []model.EvidenceStatus{model.StatusActive}, model.StatusArchived)
	require.NoError(t, err)

	require.NoError(t, e.monitor.CheckByID(context.Background(), ev.ID))
	require.ErrorIs(t, e.monitor.CheckByID(context.Background(), "missing"), store.ErrNotFound)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.monitor.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}
}
