package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const transactionColumns = `id, type, customer_id, credit, debit, ref_id, created_at`

// TransactionRepository is the append-only transaction log. It has no update
// path; the table rejects UPDATE as well.
type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ReserveIDs draws n ids from the log's sequence so linked legs can reference
// each other before either is inserted.
func (r *TransactionRepository) ReserveIDs(ctx context.Context, tx *sql.Tx, n int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT nextval('transactions_id_seq') FROM generate_series(1, $1)`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("ReserveIDs: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ReserveIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ReserveIDs: rows: %w", err)
	}
	return ids, nil
}

// Append inserts rec. A zero rec.ID is assigned by the database and written
// back to rec.
func (r *TransactionRepository) Append(ctx context.Context, tx *sql.Tx, rec *domain.TransactionRecord) error {
	if rec.ID != 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, type, customer_id, credit, debit, ref_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.Type, rec.CustomerID, rec.Credit, rec.Debit, rec.RefID, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("Append: %w", mapError(err))
		}
		return nil
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO transactions (type, customer_id, credit, debit, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.Type, rec.CustomerID, rec.Credit, rec.Debit, rec.RefID, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("Append: %w", mapError(err))
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.TransactionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id,
	)
	rec, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", mapError(err))
	}
	return rec, nil
}

// ListByCustomer returns one page of the customer's history, newest first,
// and the total number of records.
func (r *TransactionRepository) ListByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]domain.TransactionRecord, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE customer_id = $1`, customerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByCustomer: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE customer_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		customerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByCustomer: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TransactionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByCustomer: scan: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByCustomer: rows: %w", err)
	}
	return records, total, nil
}

// Reconcile reads the balance and the ledger sums in one statement so both
// come from the same snapshot.
func (r *TransactionRepository) Reconcile(ctx context.Context, customerID int64) (*domain.Reconciliation, error) {
	rec := domain.Reconciliation{CustomerID: customerID}
	err := r.db.QueryRowContext(ctx,
		`SELECT c.balance, COALESCE(SUM(t.credit), 0), COALESCE(SUM(t.debit), 0)
		FROM customers c LEFT JOIN transactions t ON t.customer_id = c.id
		WHERE c.id = $1 GROUP BY c.id, c.balance`,
		customerID,
	).Scan(&rec.Balance, &rec.TotalCredit, &rec.TotalDebit)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", mapError(err))
	}
	rec.LedgerAmount = rec.TotalCredit - rec.TotalDebit
	return &rec, nil
}

func scanTransaction(s scanner) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	err := s.Scan(
		&rec.ID, &rec.Type, &rec.CustomerID, &rec.Credit, &rec.Debit, &rec.RefID, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
