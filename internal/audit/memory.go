package audit

import (
	"context"
	"sync"
	"time"

	"github.com/josephversace/caile-evidence/internal/model"
)

// MemoryLogger collects events in memory for tests and standalone runs.
type MemoryLogger struct {
	mu     sync.Mutex
	seq    int64
	events []model.AuditEvent

	// FailNext makes the next LogAudit call fail, letting tests exercise the
	// audit-write-failure propagation contract.
	FailNext error
}

// NewMemoryLogger constructs an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// LogAudit appends one event.
func (l *MemoryLogger) LogAudit(_ context.Context, event model.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailNext != nil {
		err := l.FailNext
		l.FailNext = nil
		return err
	}
	l.seq++
	event.Seq = l.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	return nil
}

// GetEntityHistory returns all events for one entity in sequence order.
func (l *MemoryLogger) GetEntityHistory(_ context.Context, entityID string) ([]model.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.AuditEvent
	for _, ev := range l.events {
		if ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Events returns a snapshot of everything logged so far.
func (l *MemoryLogger) Events() []model.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}
