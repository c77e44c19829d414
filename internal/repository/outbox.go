package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const outboxColumns = `seq, id, transaction_id, customer_id, event_type, payload, status,
	attempts, last_error, next_attempt_at, created_at, dispatched_at`

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *sql.Tx, event *domain.OutboxEvent) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO outbox_events (
			id, transaction_id, customer_id, event_type, payload, status, next_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		event.ID, event.TransactionID, event.CustomerID, event.EventType,
		[]byte(event.Payload), event.Status, event.NextAttemptAt, event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimDue locks up to limit due pending events in write order. Rows locked by
// another relay are skipped, so relays never publish the same row concurrently.
// An event waiting out a retry holds back every later event of its customer.
func (r *OutboxRepository) ClaimDue(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_events o
		WHERE o.status = $1 AND o.next_attempt_at <= now()
		AND NOT EXISTS (
			SELECT 1 FROM outbox_events p
			WHERE p.customer_id = o.customer_id AND p.status = $1
			AND p.seq < o.seq AND p.next_attempt_at > now()
		)
		ORDER BY o.seq LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.OutboxStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimDue: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimDue: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimDue: rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	return r.update(ctx, tx, "MarkDispatched",
		`UPDATE outbox_events SET status = $1, attempts = attempts + 1, dispatched_at = now(), last_error = NULL
		WHERE id = $2`,
		domain.OutboxStatusDispatched, id,
	)
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, tx *sql.Tx, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	return r.update(ctx, tx, "MarkRetry",
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2
		WHERE id = $3`,
		lastErr, nextAttemptAt, id,
	)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID, lastErr string) error {
	return r.update(ctx, tx, "MarkFailed",
		`UPDATE outbox_events SET status = $1, attempts = attempts + 1, last_error = $2
		WHERE id = $3`,
		domain.OutboxStatusFailed, lastErr, id,
	)
}

func (r *OutboxRepository) GetByTransactionID(ctx context.Context, transactionID int64) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_events WHERE transaction_id = $1 ORDER BY seq`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByTransactionID: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByTransactionID: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByTransactionID: rows: %w", err)
	}
	return events, nil
}

// Backlog counts undelivered events and finds the oldest pending one.
func (r *OutboxRepository) Backlog(ctx context.Context) (*domain.OutboxBacklog, error) {
	var (
		b      domain.OutboxBacklog
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			min(created_at) FILTER (WHERE status = $1)
		FROM outbox_events
		WHERE status IN ($1, $2)`,
		domain.OutboxStatusPending, domain.OutboxStatusFailed,
	).Scan(&b.Pending, &b.Failed, &oldest)
	if err != nil {
		return nil, fmt.Errorf("Backlog: %w", err)
	}
	if oldest.Valid {
		b.OldestPending = &oldest.Time
	}
	return &b, nil
}

func (r *OutboxRepository) update(ctx context.Context, tx *sql.Tx, op, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanOutboxEvent(s scanner) (*domain.OutboxEvent, error) {
	var e domain.OutboxEvent
	var payload []byte
	err := s.Scan(
		&e.Seq, &e.ID, &e.TransactionID, &e.CustomerID, &e.EventType, &payload, &e.Status,
		&e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt, &e.DispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
