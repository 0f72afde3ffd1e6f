package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/josephversace/caile-evidence/internal/model"
)

// PostgresLogger appends events to the audit_events table. BIGSERIAL gives the
// monotonically increasing sequence.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresLogger constructs a logger on an existing pool.
func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

// LogAudit durably appends one event before returning.
func (l *PostgresLogger) LogAudit(ctx context.Context, event model.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_events (action, entity_id, actor, occurred_at, success, details)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.Action, event.EntityID, event.Actor, event.Timestamp, event.Success, event.Details)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetEntityHistory returns the full per-entity custody trail, oldest first.
func (l *PostgresLogger) GetEntityHistory(ctx context.Context, entityID string) ([]model.AuditEvent, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT seq, action, entity_id, actor, occurred_at, success, details
		FROM audit_events WHERE entity_id=$1 ORDER BY seq
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("select audit history: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.Seq, &ev.Action, &ev.EntityID, &ev.Actor, &ev.Timestamp, &ev.Success, &ev.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
