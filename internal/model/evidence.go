// Package model contains the entities shared across the ingestion pipeline.
package model

import (
	"time"
)

// EvidenceStatus describes the custody lifecycle of an evidence record.
type EvidenceStatus string

const (
	StatusPending     EvidenceStatus = "pending"
	StatusUploading   EvidenceStatus = "uploading"
	StatusDuplicate   EvidenceStatus = "duplicate"
	StatusActive      EvidenceStatus = "active"
	StatusFailed      EvidenceStatus = "failed"
	StatusArchived    EvidenceStatus = "archived"
	StatusCompromised EvidenceStatus = "compromised"
	StatusDeleted     EvidenceStatus = "deleted"
)

// Terminal reports whether a record in this status can no longer become Active.
func (s EvidenceStatus) Terminal() bool {
	switch s {
	case StatusDuplicate, StatusFailed, StatusArchived, StatusCompromised, StatusDeleted:
		return true
	}
	return false
}

// CustodyMetadata is the chain-of-custody bundle attached to a record. Fields
// are appended to, never overwritten; every append is an audited event.
type CustodyMetadata struct {
	CaseNumber  string            `json:"caseNumber,omitempty"`
	CollectedBy string            `json:"collectedBy,omitempty"`
	CollectedAt *time.Time        `json:"collectedAt,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Clone returns a deep copy, so callers can hold or mutate the result
// without aliasing the receiver's map and pointer fields.
func (m CustodyMetadata) Clone() CustodyMetadata {
	out := m
	if m.CollectedAt != nil {
		at := *m.CollectedAt
		out.CollectedAt = &at
	}
	if m.Fields != nil {
		out.Fields = make(map[string]string, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Merge appends other onto m, refusing to overwrite any populated value.
// Returning the clashing key lets callers produce a precise audit reason.
// The receiver is updated only when every field merges cleanly; a clash
// anywhere leaves it untouched.
func (m *CustodyMetadata) Merge(other CustodyMetadata) (string, bool) {
	merged := m.Clone()
	if other.CaseNumber != "" {
		if merged.CaseNumber != "" && merged.CaseNumber != other.CaseNumber {
			return "caseNumber", false
		}
		merged.CaseNumber = other.CaseNumber
	}
	if other.CollectedBy != "" {
		if merged.CollectedBy != "" && merged.CollectedBy != other.CollectedBy {
			return "collectedBy", false
		}
		merged.CollectedBy = other.CollectedBy
	}
	if other.CollectedAt != nil {
		if merged.CollectedAt != nil && !merged.CollectedAt.Equal(*other.CollectedAt) {
			return "collectedAt", false
		}
		at := *other.CollectedAt
		merged.CollectedAt = &at
	}
	for k, v := range other.Fields {
		if existing, ok := merged.Fields[k]; ok && existing != v {
			return k, false
		}
		if merged.Fields == nil {
			merged.Fields = make(map[string]string)
		}
		merged.Fields[k] = v
	}
	*m = merged
	return "", true
}

// Evidence represents one piece of ingested investigative material.
type Evidence struct {
	ID               string          `json:"id"`
	Hash             string          `json:"hash"`
	OriginalFileName string          `json:"originalFileName"`
	ContentType      string          `json:"contentType"`
	FileSize         int64           `json:"fileSize"`
	StoragePath      string          `json:"-"`
	Status           EvidenceStatus  `json:"status"`
	Metadata         CustodyMetadata `json:"metadata"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// DuplicateInfo is derived on demand when a submission collides with content
// that is already known.
type DuplicateInfo struct {
	OriginalEvidenceID string `json:"originalEvidenceId"`
	DuplicateCount     int64  `json:"duplicateCount"`
}

// AuditAction enumerates the audited pipeline transitions.
type AuditAction string

const (
	ActionUploadInitiated   AuditAction = "EVIDENCE_UPLOAD_INITIATED"
	ActionDuplicateDetected AuditAction = "EVIDENCE_DUPLICATE_DETECTED"
	ActionUploadConfirmed   AuditAction = "EVIDENCE_UPLOAD_CONFIRMED"
	ActionUploadFailed      AuditAction = "EVIDENCE_UPLOAD_FAILED"
	ActionIntegrityFailed   AuditAction = "EVIDENCE_INTEGRITY_FAILED"
	ActionMetadataAppended  AuditAction = "EVIDENCE_METADATA_APPENDED"
	ActionArchived          AuditAction = "EVIDENCE_ARCHIVED"
	ActionDeleted           AuditAction = "EVIDENCE_DELETED"
)

// AuditEvent is one append-only chain-of-custody entry. Seq is assigned by the
// audit log on write and is strictly increasing.
type AuditEvent struct {
	Seq       int64       `json:"seq"`
	Action    AuditAction `json:"action"`
	EntityID  string      `json:"entityId"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Success   bool        `json:"success"`
	Details   string      `json:"details,omitempty"`
}
