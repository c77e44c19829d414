package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const accountColumns = `id, type, min_balance, status, created_at, updated_at`

// AccountRepository is the account-type registry.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", mapError(err))
	}
	return a, nil
}

// GetForShare reads the account inside tx and blocks status changes until the
// tx ends. Concurrent readers do not block each other.
func (r *AccountRepository) GetForShare(ctx context.Context, tx *sql.Tx, id int64) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR SHARE`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("GetForShare: %w", mapError(err))
	}
	return a, nil
}

// UpdateStatus opens or closes an account type. It is the operator path behind
// `ledger account-status` and no HTTP route reaches it. It waits for in-flight
// money transactions holding the row FOR SHARE.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("UpdateStatus: status %q: %w", status, domain.ErrInvalidRequest)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", mapError(err))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	err := s.Scan(&a.ID, &a.Type, &a.MinBalance, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
