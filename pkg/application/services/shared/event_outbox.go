package shared

import (
	"context"

	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

// EventOutbox holds events raised inside a transaction until it commits.
// Events raised inside a transaction that rolls back are never published.
type EventOutbox struct {
	tx     repositories.TransactionManager
	events gateways.EventPublisher
	logger *zap.Logger
}

// NewEventOutbox creates an outbox publishing through events once tx commits
func NewEventOutbox(tx repositories.TransactionManager, events gateways.EventPublisher, logger *zap.Logger) *EventOutbox {
	if events == nil {
		events = gateways.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventOutbox{tx: tx, events: events, logger: logger}
}

// Publish queues an event on the transaction bound to ctx. Publish failures are logged, not returned.
func (o *EventOutbox) Publish(ctx context.Context, eventType, streamID string, payload any) {
	o.tx.AfterCommit(ctx, func() {
		if err := o.events.Publish(context.WithoutCancel(ctx), eventType, streamID, payload); err != nil {
			o.logger.Warn("failed to publish event",
				zap.String("event", eventType),
				zap.String("stream", streamID),
				zap.Error(err),
			)
		}
	})
}
