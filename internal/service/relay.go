package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/events"
)

type relayOutboxRepo interface {
	ClaimDue(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	MarkRetry(ctx context.Context, tx *sql.Tx, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID, lastErr string) error
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// OutboxRelay moves committed outbox events onto the event bus. Delivery is
// at least once: a crash between publish and commit republishes the batch.
type OutboxRelay struct {
	outbox      relayOutboxRepo
	db          txBeginner
	publisher   events.Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	wake        chan struct{}
}

func NewOutboxRelay(
	outbox relayOutboxRepo,
	db txBeginner,
	publisher events.Publisher,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
) *OutboxRelay {
	return &OutboxRelay{
		outbox:      outbox,
		db:          db,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		wake:        make(chan struct{}, 1),
	}
}

// Notify wakes the relay without waiting for the next tick. It never blocks.
func (r *OutboxRelay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// A batch in flight when ctx is cancelled still publishes and commits.
	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
		case <-r.wake:
		}
		r.drain(ctx, work)
	}
}

// drain claims batches until one comes back short. stop is checked only
// between batches.
func (r *OutboxRelay) drain(stop, work context.Context) {
	for stop.Err() == nil {
		n, err := r.RelayOnce(work)
		if err != nil {
			r.logger.Error("outbox relay batch failed", "error", err)
			return
		}
		if n < r.batchSize {
			return
		}
	}
}

// RelayOnce claims one batch of due events and publishes them in write order.
// Once an event for a customer fails, later events for that customer in the
// batch are left pending so consumers see each customer's legs in order.
// It returns the number of events claimed.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("RelayOnce: begin tx: %w", err)
	}
	defer tx.Rollback()

	batch, err := r.outbox.ClaimDue(ctx, tx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("RelayOnce: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	blocked := make(map[int64]bool)
	for _, event := range batch {
		if blocked[event.CustomerID] {
			continue
		}
		published, err := r.dispatch(ctx, tx, event)
		if err != nil {
			return 0, fmt.Errorf("RelayOnce: %w", err)
		}
		if !published {
			blocked[event.CustomerID] = true
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("RelayOnce: commit: %w", err)
	}
	return len(batch), nil
}

// dispatch publishes one event and records the outcome on its row. The bool
// reports whether the bus accepted the event.
func (r *OutboxRelay) dispatch(ctx context.Context, tx *sql.Tx, event domain.OutboxEvent) (bool, error) {
	pubErr := r.publisher.Publish(ctx, event)
	if pubErr == nil {
		if err := r.outbox.MarkDispatched(ctx, tx, event.ID); err != nil {
			return false, err
		}
		r.logger.Debug("outbox event dispatched",
			"event_id", event.ID,
			"transaction_id", event.TransactionID,
			"event_type", event.EventType,
		)
		return true, nil
	}

	attempts := event.Attempts + 1
	if attempts >= r.maxAttempts {
		r.logger.Error("outbox event failed permanently",
			"event_id", event.ID,
			"transaction_id", event.TransactionID,
			"attempts", attempts,
			"error", pubErr,
		)
		return false, r.outbox.MarkFailed(ctx, tx, event.ID, pubErr.Error())
	}

	delay := retryDelay(attempts)
	r.logger.Warn("outbox event publish failed, will retry",
		"event_id", event.ID,
		"transaction_id", event.TransactionID,
		"attempts", attempts,
		"retry_in", delay,
		"error", pubErr,
	)
	return false, r.outbox.MarkRetry(ctx, tx, event.ID, pubErr.Error(), time.Now().Add(delay))
}

// retryDelay is the wait before the next publish attempt after the given
// number of failed attempts: 1s growing by half each time, capped at 5m.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 1.5
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
