// Package audit owns the append-only chain-of-custody event log. Events are
// written synchronously as part of every state transition; a failed audit
// write fails the transition, because an unaudited transition is worse than a
// failed one.
package audit

import (
	"context"

	"github.com/josephversace/caile-evidence/internal/model"
)

// Logger is the append-only event sink. Implementations assign Seq and the
// timestamp on write; events are never mutated or deleted.
type Logger interface {
	LogAudit(ctx context.Context, event model.AuditEvent) error
	// GetEntityHistory returns all events for one entity in sequence order.
	GetEntityHistory(ctx context.Context, entityID string) ([]model.AuditEvent, error)
}
