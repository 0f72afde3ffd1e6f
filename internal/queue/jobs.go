package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// VerifyEvidenceTask is scheduled after each successful confirm so the
	// worker re-fetches and re-hashes the object once, out of band.
	VerifyEvidenceTask = "evidence:verify"
)

// VerifyPayload tells the worker which record to verify.
type VerifyPayload struct {
	EvidenceID string `json:"evidence_id"`
}

// Client wraps an asynq client behind the small interface the coordinator
// needs, so tests can substitute a no-op.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueVerify enqueues a first-verification job for evidenceID.
func (c *Client) EnqueueVerify(ctx context.Context, evidenceID string) error {
	data, err := json.Marshal(VerifyPayload{EvidenceID: evidenceID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(VerifyEvidenceTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue verify task: %w", err)
	}
	return nil
}
