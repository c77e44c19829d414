// Package events delivers outbox events to the outside world.
package events

import (
	"context"
	"log/slog"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

// Publisher hands one event to the bus. A nil error means the bus accepted it.
type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// LogPublisher writes events to the log. It stands in for the bus when no
// Redis is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.OutboxEvent) error {
	p.logger.Info("transaction event",
		"event_id", event.ID,
		"event_type", event.EventType,
		"transaction_id", event.TransactionID,
		"payload", string(event.Payload),
	)
	return nil
}
