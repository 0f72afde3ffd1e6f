// Package coordinator orchestrates the two-phase evidence upload protocol:
// initiate → client transfer → confirm. Confirmation converges from two
// independent paths (explicit client call and storage webhook) onto one
// idempotent transition.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/dedup"
	"github.com/josephversace/caile-evidence/internal/hashing"
	"github.com/josephversace/caile-evidence/internal/model"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
)

var (
	// ErrInvalidHash rejects malformed digest strings before any side effect.
	ErrInvalidHash = errors.New("malformed content hash")
	// ErrInvalidSize rejects non-positive file sizes before any side effect.
	ErrInvalidSize = errors.New("file size must be positive")
	// ErrNotFound is returned when confirm targets an unknown evidence id.
	ErrNotFound = store.ErrNotFound
)

// confirmable are the statuses a record may confirm (or fail) from.
var confirmable = []model.EvidenceStatus{model.StatusPending, model.StatusUploading}

// InitiationStatus is the machine-checkable outcome of InitiateUpload.
type InitiationStatus string

const (
	StatusInitiated InitiationStatus = "initiated"
	StatusDuplicate InitiationStatus = "duplicate"
)

// InitiateRequest carries the caller-supplied upload description.
type InitiateRequest struct {
	Hash        string
	FileName    string
	FileSize    int64
	ContentType string
	Metadata    model.CustodyMetadata
	ActorID     string
}

// UploadInitiation is the result of InitiateUpload.
type UploadInitiation struct {
	Status          InitiationStatus     `json:"status"`
	EvidenceID      string               `json:"evidenceId"`
	UploadURL       string               `json:"uploadUrl,omitempty"`
	UploadURLExpiry time.Time            `json:"uploadUrlExpiry,omitempty"`
	RequiredHeaders map[string]string    `json:"requiredHeaders,omitempty"`
	Duplicate       *model.DuplicateInfo `json:"duplicate,omitempty"`
}

// ConfirmResult is the result of ConfirmUpload.
type ConfirmResult struct {
	Success    bool                 `json:"success"`
	Status     model.EvidenceStatus `json:"status"`
	EvidenceID string               `json:"evidenceId"`
	Reason     string               `json:"reason,omitempty"`
}

// VerifyEnqueuer schedules the out-of-band first verification of a freshly
// confirmed record.
type VerifyEnqueuer interface {
	EnqueueVerify(ctx context.Context, evidenceID string) error
}

// Coordinator wires the dedup index, evidence store, audit log, and storage
// gateway into the upload protocol. It is stateless per request; any number of
// calls may run concurrently.
type Coordinator struct {
	store   store.EvidenceStore
	index   dedup.Index
	auditor audit.Logger
	gateway objectstore.Gateway
	verify  VerifyEnqueuer

	presignTTL  time.Duration
	maxFileSize int64
	locks       *hashLocks
	log         zerolog.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithVerifyEnqueuer enables post-confirm verification scheduling.
func WithVerifyEnqueuer(v VerifyEnqueuer) Option {
	return func(c *Coordinator) { c.verify = v }
}

// WithMaxFileSize caps the declared file size accepted at initiation.
func WithMaxFileSize(n int64) Option {
	return func(c *Coordinator) { c.maxFileSize = n }
}

// New constructs a Coordinator.
func New(evidence store.EvidenceStore, index dedup.Index, auditor audit.Logger, gateway objectstore.Gateway, presignTTL time.Duration, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      evidence,
		index:      index,
		auditor:    auditor,
		gateway:    gateway,
		presignTTL: presignTTL,
		locks:      newHashLocks(),
		log:        log.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateUpload reserves an evidence record for new content and hands back a
// pre-signed write URL, or short-circuits with duplicate information when the
// hash is already live. Exactly one record and at most one audit event per
// call; no file bytes ever pass through here.
func (c *Coordinator) InitiateUpload(ctx context.Context, req InitiateRequest) (*UploadInitiation, error) {
	hash := hashing.Normalize(req.Hash)
	if !hashing.Valid(hash) {
		return nil, ErrInvalidHash
	}
	if req.FileSize <= 0 || (c.maxFileSize > 0 && req.FileSize > c.maxFileSize) {
		return nil, ErrInvalidSize
	}

	unlock := c.locks.lock(hash)
	defer unlock()

	existing, err := c.index.CheckDuplicate(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		return c.duplicateOutcome(ctx, hash, existing, req.ActorID)
	}

	ev := &model.Evidence{
		ID:               uuid.NewString(),
		Hash:             hash,
		OriginalFileName: req.FileName,
		ContentType:      req.ContentType,
		FileSize:         req.FileSize,
		Status:           model.StatusPending,
		Metadata:         req.Metadata,
	}
	ev.StoragePath = storagePath(req.Metadata.CaseNumber, ev.ID, req.FileName)

	if err := c.store.Create(ctx, ev); err != nil {
		if errors.Is(err, store.ErrHashConflict) {
			// Another initiation won the reservation between our dedup check
			// and the insert; fold into the duplicate outcome.
			winner, ferr := c.store.FindLiveByHash(ctx, hash)
			if ferr != nil {
				return nil, fmt.Errorf("resolve reservation race: %w", ferr)
			}
			return c.duplicateOutcome(ctx, hash, winner, req.ActorID)
		}
		return nil, fmt.Errorf("reserve evidence: %w", err)
	}

	// The reservation is durable from here on; cancellation no longer rolls
	// it back. A Pending record that never confirms is harmless and subject
	// to later cleanup.
	url, headers, err := c.gateway.PresignUpload(ctx, ev.StoragePath, c.presignTTL)
	if err != nil {
		if _, serr := c.store.SetStatus(ctx, ev.ID, []model.EvidenceStatus{model.StatusPending}, model.StatusFailed); serr != nil {
			c.log.Error().Err(serr).Str("evidence_id", ev.ID).Msg("demote unpresigned reservation")
		}
		if aerr := c.audit(ctx, model.ActionUploadFailed, ev.ID, req.ActorID, false, fmt.Sprintf("presign upload url: %v", err)); aerr != nil {
			return nil, aerr
		}
		return nil, fmt.Errorf("presign upload url: %w", err)
	}

	if err := c.audit(ctx, model.ActionUploadInitiated, ev.ID, req.ActorID, true,
		fmt.Sprintf("file=%s size=%d hash=%s", req.FileName, req.FileSize, hash)); err != nil {
		return nil, err
	}

	c.log.Info().Str("evidence_id", ev.ID).Str("hash", hash).Msg("upload initiated")
	return &UploadInitiation{
		Status:          StatusInitiated,
		EvidenceID:      ev.ID,
		UploadURL:       url,
		UploadURLExpiry: time.Now().UTC().Add(c.presignTTL),
		RequiredHeaders: headers,
	}, nil
}

func (c *Coordinator) duplicateOutcome(ctx context.Context, hash string, original *model.Evidence, actor string) (*UploadInitiation, error) {
	count, err := c.index.IncrementDuplicateCount(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("count duplicate: %w", err)
	}
	if err := c.audit(ctx, model.ActionDuplicateDetected, original.ID, actor, true,
		fmt.Sprintf("hash=%s submissions=%d", hash, count)); err != nil {
		return nil, err
	}
	c.log.Info().Str("evidence_id", original.ID).Str("hash", hash).Int64("count", count).Msg("duplicate content detected")
	return &UploadInitiation{
		Status:     StatusDuplicate,
		EvidenceID: original.ID,
		Duplicate: &model.DuplicateInfo{
			OriginalEvidenceID: original.ID,
			DuplicateCount:     count,
		},
	}, nil
}

// ConfirmUpload verifies the object landed in storage and flips the record to
// Active, registering its hash. It is idempotent: repeat calls and webhook
// races converge on the first completed outcome.
func (c *Coordinator) ConfirmUpload(ctx context.Context, evidenceID, clientHash, actor string) (*ConfirmResult, error) {
	ev, err := c.store.Get(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(ev.Hash)
	defer unlock()

	// Re-read under the hash lock so a confirm that just completed is seen.
	ev, err = c.store.Get(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if ev.Status == model.StatusActive {
		return &ConfirmResult{Success: true, Status: model.StatusActive, EvidenceID: ev.ID}, nil
	}
	if ev.Status.Terminal() {
		return &ConfirmResult{
			Success:    false,
			Status:     ev.Status,
			EvidenceID: ev.ID,
			Reason:     fmt.Sprintf("record already settled as %s", ev.Status),
		}, nil
	}

	if clientHash != "" && hashing.Normalize(clientHash) != ev.Hash {
		return c.failUpload(ctx, ev, actor,
			fmt.Sprintf("client hash mismatch: declared %s, confirmed %s", ev.Hash, hashing.Normalize(clientHash)))
	}

	exists, err := c.gateway.ObjectExists(ctx, ev.StoragePath)
	if err != nil {
		// Transient storage trouble: leave the record live so the caller can
		// retry with backoff.
		return &ConfirmResult{
			Success:    false,
			Status:     ev.Status,
			EvidenceID: ev.ID,
			Reason:     fmt.Sprintf("storage unavailable: %v", err),
		}, nil
	}
	if !exists {
		return c.failUpload(ctx, ev, actor, "object not found in storage")
	}

	won, err := c.store.SetStatus(ctx, ev.ID, confirmable, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("activate evidence: %w", err)
	}
	if !won {
		// A concurrent confirm settled the record first; report its outcome.
		settled, gerr := c.store.Get(ctx, ev.ID)
		if gerr != nil {
			return nil, gerr
		}
		if settled.Status == model.StatusActive {
			return &ConfirmResult{Success: true, Status: model.StatusActive, EvidenceID: ev.ID}, nil
		}
		return &ConfirmResult{
			Success:    false,
			Status:     settled.Status,
			EvidenceID: ev.ID,
			Reason:     fmt.Sprintf("record already settled as %s", settled.Status),
		}, nil
	}

	if err := c.index.RegisterHash(ctx, ev.Hash, ev.ID); err != nil {
		var conflict *dedup.ConflictError
		if errors.As(err, &conflict) {
			return c.demoteLoser(ctx, ev, actor, conflict)
		}
		return nil, fmt.Errorf("register hash: %w", err)
	}

	if err := c.audit(ctx, model.ActionUploadConfirmed, ev.ID, actor, true,
		fmt.Sprintf("hash=%s path=%s", ev.Hash, ev.StoragePath)); err != nil {
		return nil, err
	}

	if c.verify != nil {
		if err := c.verify.EnqueueVerify(ctx, ev.ID); err != nil {
			c.log.Warn().Err(err).Str("evidence_id", ev.ID).Msg("schedule first verification")
		}
	}
	c.log.Info().Str("evidence_id", ev.ID).Str("hash", ev.Hash).Msg("upload confirmed")
	return &ConfirmResult{Success: true, Status: model.StatusActive, EvidenceID: ev.ID}, nil
}

func (c *Coordinator) failUpload(ctx context.Context, ev *model.Evidence, actor, reason string) (*ConfirmResult, error) {
	won, err := c.store.SetStatus(ctx, ev.ID, confirmable, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("fail evidence: %w", err)
	}
	if won {
		if err := c.audit(ctx, model.ActionUploadFailed, ev.ID, actor, false, reason); err != nil {
			return nil, err
		}
		c.log.Warn().Str("evidence_id", ev.ID).Str("reason", reason).Msg("upload failed")
	}
	return &ConfirmResult{
		Success:    false,
		Status:     model.StatusFailed,
		EvidenceID: ev.ID,
		Reason:     reason,
	}, nil
}

// demoteLoser handles a confirm losing the hash registration: the record is
// demoted to Duplicate rather than discarded silently; its storage object is
// left for the out-of-band reaper.
func (c *Coordinator) demoteLoser(ctx context.Context, ev *model.Evidence, actor string, conflict *dedup.ConflictError) (*ConfirmResult, error) {
	if _, err := c.store.SetStatus(ctx, ev.ID, []model.EvidenceStatus{model.StatusActive}, model.StatusDuplicate); err != nil {
		return nil, fmt.Errorf("demote duplicate: %w", err)
	}
	if _, err := c.index.IncrementDuplicateCount(ctx, ev.Hash); err != nil {
		c.log.Error().Err(err).Str("hash", ev.Hash).Msg("count demoted duplicate")
	}
	if err := c.audit(ctx, model.ActionDuplicateDetected, ev.ID, actor, true,
		fmt.Sprintf("lost confirm race to %s", conflict.ExistingID)); err != nil {
		return nil, err
	}
	c.log.Warn().Str("evidence_id", ev.ID).Str("winner", conflict.ExistingID).Msg("confirm race lost, record demoted")
	return &ConfirmResult{
		Success:    false,
		Status:     model.StatusDuplicate,
		EvidenceID: ev.ID,
		Reason:     fmt.Sprintf("content already active as %s", conflict.ExistingID),
	}, nil
}

// HandleStorageNotification resolves a storage completion event back to its
// record and confirms it with no client hash. Unknown objects and already
// settled records are logged and ignored, since this path races with explicit
// confirmation by design.
func (c *Coordinator) HandleStorageNotification(ctx context.Context, bucket, objectKey, eventType string) bool {
	if !isObjectCreated(eventType) {
		c.log.Debug().Str("event", eventType).Str("key", objectKey).Msg("ignoring storage event")
		return false
	}
	ev, err := c.store.GetByStoragePath(ctx, objectKey)
	if err != nil {
		c.log.Info().Str("bucket", bucket).Str("key", objectKey).Msg("storage notification for unknown object")
		return false
	}
	if ev.Status == model.StatusActive || ev.Status.Terminal() {
		c.log.Debug().Str("evidence_id", ev.ID).Str("status", string(ev.Status)).Msg("storage notification for settled record")
		return true
	}
	result, err := c.ConfirmUpload(ctx, ev.ID, "", "storage-gateway")
	if err != nil {
		c.log.Error().Err(err).Str("evidence_id", ev.ID).Msg("webhook confirm")
		return false
	}
	return result.Success
}

// AppendMetadata appends custody metadata to a record. Populated values are
// never overwritten, and both outcomes are audited.
func (c *Coordinator) AppendMetadata(ctx context.Context, evidenceID string, md model.CustodyMetadata, actor string) (*model.Evidence, error) {
	ev, err := c.store.AppendMetadata(ctx, evidenceID, md)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			if aerr := c.audit(ctx, model.ActionMetadataAppended, evidenceID, actor, false, err.Error()); aerr != nil {
				return nil, aerr
			}
		}
		return nil, err
	}
	if err := c.audit(ctx, model.ActionMetadataAppended, evidenceID, actor, true, "custody metadata appended"); err != nil {
		return nil, err
	}
	return ev, nil
}

// Archive retires an Active record. The audit trail and the stored object are
// preserved.
func (c *Coordinator) Archive(ctx context.Context, evidenceID, actor string) error {
	return c.retire(ctx, evidenceID, actor, []model.EvidenceStatus{model.StatusActive}, model.StatusArchived, model.ActionArchived)
}

// Delete soft-deletes a record. Evidence is never physically removed by this
// subsystem.
func (c *Coordinator) Delete(ctx context.Context, evidenceID, actor string) error {
	from := []model.EvidenceStatus{
		model.StatusPending, model.StatusUploading, model.StatusActive,
		model.StatusFailed, model.StatusDuplicate, model.StatusArchived, model.StatusCompromised,
	}
	return c.retire(ctx, evidenceID, actor, from, model.StatusDeleted, model.ActionDeleted)
}

func (c *Coordinator) retire(ctx context.Context, evidenceID, actor string, from []model.EvidenceStatus, to model.EvidenceStatus, action model.AuditAction) error {
	won, err := c.store.SetStatus(ctx, evidenceID, from, to)
	if err != nil {
		return err
	}
	if !won {
		ev, gerr := c.store.Get(ctx, evidenceID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("cannot transition %s record to %s", ev.Status, to)
	}
	return c.audit(ctx, action, evidenceID, actor, true, "")
}

func (c *Coordinator) audit(ctx context.Context, action model.AuditAction, entityID, actor string, success bool, details string) error {
	err := c.auditor.LogAudit(ctx, model.AuditEvent{
		Action:   action,
		EntityID: entityID,
		Actor:    actor,
		Success:  success,
		Details:  details,
	})
	if err != nil {
		// An unaudited transition is worse than a failed operation.
		return fmt.Errorf("audit write failed for %s: %w", action, err)
	}
	return nil
}

func storagePath(caseNumber, evidenceID, fileName string) string {
	if caseNumber == "" {
		caseNumber = "uncased"
	}
	return fmt.Sprintf("cases/%s/%s/%s", caseNumber, evidenceID, sanitizeFileName(fileName))
}

func sanitizeFileName(name string) string {
	if name == "" {
		return "evidence.bin"
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func isObjectCreated(eventType string) bool {
	return eventType == "" || strings.HasPrefix(eventType, "s3:ObjectCreated")
}
