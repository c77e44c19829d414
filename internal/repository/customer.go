package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const customerColumns = `id, username, account_number, name, email, balance,
	account_type_id, version, created_at, updated_at`

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id,
	)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", mapError(err))
	}
	return c, nil
}

func (r *CustomerRepository) GetByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE username = $1`, username,
	)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("GetByUsername: %w", mapError(err))
	}
	return c, nil
}

func (r *CustomerRepository) GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE account_number = $1`, accountNumber,
	)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountNumber: %w", mapError(err))
	}
	return c, nil
}

// GetForUpdate takes the customer's mutation right for the rest of tx. The
// wait is bounded by the tx lock_timeout and surfaces as domain.ErrBusy.
func (r *CustomerRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Customer, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id,
	)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", mapError(err))
	}
	return c, nil
}

// AdjustBalance applies delta in a single statement and returns the new balance.
func (r *CustomerRepository) AdjustBalance(ctx context.Context, tx *sql.Tx, id int64, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`UPDATE customers SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2 RETURNING balance`,
		delta, id,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("AdjustBalance: %w", mapError(err))
	}
	return balance, nil
}

func (r *CustomerRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListIDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListIDs: rows: %w", err)
	}
	return ids, nil
}

func scanCustomer(s scanner) (*domain.Customer, error) {
	var c domain.Customer
	err := s.Scan(
		&c.ID, &c.Username, &c.AccountNumber, &c.Name, &c.Email, &c.Balance,
		&c.AccountTypeID, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
