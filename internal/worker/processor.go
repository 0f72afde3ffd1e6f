package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/josephversace/caile-evidence/internal/monitor"
	"github.com/josephversace/caile-evidence/internal/queue"
)

// Processor is plugged into the asynq worker loop. It runs the out-of-band
// first verification scheduled after each confirmed upload.
type Processor struct {
	monitor *monitor.Monitor
	log     zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(m *monitor.Monitor, log zerolog.Logger) *Processor {
	return &Processor{monitor: m, log: log.With().Str("component", "worker").Logger()}
}

// Handler registers the verification job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VerifyEvidenceTask, p.handleVerify)
	return mux
}

func (p *Processor) handleVerify(ctx context.Context, task *asynq.Task) error {
	var payload queue.VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.monitor.CheckByID(ctx, payload.EvidenceID); err != nil {
		p.log.Warn().Err(err).Str("evidence_id", payload.EvidenceID).Msg("first verification failed")
		if errors.Is(err, monitor.ErrMismatch) {
			// The record is already Compromised and audited; retrying would
			// only re-fetch a record the handler now skips.
			return fmt.Errorf("verification mismatch: %w", asynq.SkipRetry)
		}
		return err
	}
	p.log.Info().Str("evidence_id", payload.EvidenceID).Msg("first verification passed")
	return nil
}
