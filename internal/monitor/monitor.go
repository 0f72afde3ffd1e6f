// Package monitor periodically re-verifies stored evidence against its
// recorded content hash.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/hashing"
	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
)

// ErrMismatch reports that stored content no longer matches its recorded
// hash.
var ErrMismatch = errors.New("content hash mismatch")

// escalateAfter is how many consecutive fetch failures for one record raise
// an operator alert. An unreachable store is not proof of compromise, so the
// record status is left alone.
const escalateAfter = 3

// sweepBatch caps how many records one sweep enumerates.
const sweepBatch = 1000

// sweepWorkers bounds how many records are verified concurrently.
const sweepWorkers = 4

// Alerter delivers operator-facing alerts. Delivery is an external
// collaborator; only the interface lives here.
type Alerter interface {
	Alert(ctx context.Context, evidenceID, reason string) error
}

// LogAlerter is the default Alerter, writing alerts to the service log.
type LogAlerter struct {
	Log zerolog.Logger
}

// Alert logging satisfies Alerter.
func (a *LogAlerter) Alert(_ context.Context, evidenceID, reason string) error {
	a.Log.Error().Str("evidence_id", evidenceID).Str("reason", reason).Msg("integrity alert")
	return nil
}

// Monitor is the single long-lived background verifier. One instance runs per
// worker; per-record checks are isolated so one failure never aborts a sweep.
type Monitor struct {
	store   store.EvidenceStore
	gateway objectstore.Gateway
	auditor audit.Logger
	alerter Alerter

	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// New constructs a Monitor.
func New(evidence store.EvidenceStore, gateway objectstore.Gateway, auditor audit.Logger, alerter Alerter, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:    evidence,
		gateway:  gateway,
		auditor:  auditor,
		alerter:  alerter,
		interval: interval,
		log:      log.With().Str("component", "integrity-monitor").Logger(),
		failures: make(map[string]int),
	}
}

// Run loops sweeps on the configured interval until ctx is cancelled. It
// never returns an error from a sweep; every failure is absorbed, logged, and
// retried on the next cycle.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info().Dur("interval", m.interval).Msg("integrity monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("integrity monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep re-verifies every Active record it can enumerate. It returns how many
// records were checked and how many were flagged compromised.
func (m *Monitor) Sweep(ctx context.Context) (checked, compromised int) {
	records, err := m.store.ListByStatus(ctx, model.StatusActive, sweepBatch)
	if err != nil {
		m.log.Error().Err(err).Msg("enumerate active evidence")
		return 0, 0
	}

	var (
		wg     sync.WaitGroup
		counts sync.Mutex
		sem    = make(chan struct{}, sweepWorkers)
	)
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := m.Check(ctx, rec)
			counts.Lock()
			defer counts.Unlock()
			checked++
			if errors.Is(err, ErrMismatch) {
				compromised++
			} else if err != nil {
				m.log.Warn().Err(err).Str("evidence_id", rec.ID).Msg("integrity check deferred")
			}
		}()
	}
	wg.Wait()
	m.log.Info().Int("checked", checked).Int("compromised", compromised).Msg("integrity sweep complete")
	return checked, compromised
}

// Check re-fetches one record's object, recomputes its hash, and compares it
// to the recorded digest. A mismatch transitions the record to Compromised,
// writes exactly one audit event, and alerts; transient fetch failures only
// escalate after repeated consecutive misses.
func (m *Monitor) Check(ctx context.Context, ev *model.Evidence) error {
	if len(ev.Hash) != hashing.DigestLength {
		// Records admitted with a foreign digest algorithm cannot be
		// re-verified against SHA-256; leave them to manual review.
		m.log.Debug().Str("evidence_id", ev.ID).Msg("skipping record with non-SHA-256 digest")
		return nil
	}
	data, err := m.gateway.FetchObject(ctx, ev.StoragePath)
	if err != nil {
		m.recordFetchFailure(ctx, ev.ID, err)
		return fmt.Errorf("fetch object: %w", err)
	}
	m.clearFetchFailures(ev.ID)

	computed := hashing.SumBytes(data)
	if computed == ev.Hash {
		return nil
	}

	won, err := m.store.SetStatus(ctx, ev.ID, []model.EvidenceStatus{model.StatusActive}, model.StatusCompromised)
	if err != nil {
		return fmt.Errorf("mark compromised: %w", err)
	}
	if won {
		details := fmt.Sprintf("recorded=%s computed=%s", ev.Hash, computed)
		if err := m.auditor.LogAudit(ctx, model.AuditEvent{
			Action:   model.ActionIntegrityFailed,
			EntityID: ev.ID,
			Actor:    "integrity-monitor",
			Success:  false,
			Details:  details,
		}); err != nil {
			return fmt.Errorf("audit integrity failure: %w", err)
		}
		if err := m.alerter.Alert(ctx, ev.ID, details); err != nil {
			m.log.Error().Err(err).Str("evidence_id", ev.ID).Msg("deliver integrity alert")
		}
		m.log.Error().Str("evidence_id", ev.ID).Str("recorded", ev.Hash).Str("computed", computed).Msg("evidence compromised")
	}
	return ErrMismatch
}

// CheckByID loads a record and verifies it if it is Active. Used by the
// post-confirm verification task and the ops CLI.
func (m *Monitor) CheckByID(ctx context.Context, evidenceID string) error {
	ev, err := m.store.Get(ctx, evidenceID)
	if err != nil {
		return err
	}
	if ev.Status != model.StatusActive {
		m.log.Debug().Str("evidence_id", evidenceID).Str("status", string(ev.Status)).Msg("skipping non-active record")
		return nil
	}
	return m.Check(ctx, ev)
}

func (m *Monitor) recordFetchFailure(ctx context.Context, evidenceID string, cause error) {
	m.mu.Lock()
	m.failures[evidenceID]++
	n := m.failures[evidenceID]
	m.mu.Unlock()
	if n == escalateAfter {
		reason := fmt.Sprintf("object unreachable for %d consecutive sweeps: %v", n, cause)
		if err := m.alerter.Alert(ctx, evidenceID, reason); err != nil {
			m.log.Error().Err(err).Str("evidence_id", evidenceID).Msg("deliver unreachable alert")
		}
	}
}

func (m *Monitor) clearFetchFailures(evidenceID string) {
	m.mu.Lock()
	delete(m.failures, evidenceID)
	m.mu.Unlock()
}
