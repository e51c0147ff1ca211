package service

import (
	"context"
	"time"

	"github.com/iliyamo/psych-forms/internal/queue"
)

// EventPublisher delivers audit events.  *queue.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuditEvent) error
}

const publishTimeout = 5 * time.Second

// emit publishes ev in the background.  Audit delivery never affects the
// outcome of the operation that produced it; failures are logged.
func (e *Engine) emit(ev queue.AuditEvent) {
	if e.events == nil {
		return
	}
	ev.OccurredAt = e.now().Format(time.RFC3339Nano)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := e.events.Publish(ctx, ev); err != nil {
			e.log.Warn().Err(err).Str("event", ev.Type).Str("form_id", ev.FormID).Msg("audit publish failed")
		}
	}()
}

// Wait blocks until every audit event emitted so far has been handed to
// the publisher.
func (e *Engine) Wait() { e.pending.Wait() }
