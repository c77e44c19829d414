package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const (
	pqLockNotAvailable = "55P03"
	pqDeadlockDetected = "40P01"
	pqCheckViolation   = "23514"

	balanceConstraint = "customers_balance_non_negative"
)

// mapError translates driver errors into domain errors. Anything it does not
// recognise is returned unchanged.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqLockNotAvailable, pqDeadlockDetected:
		return domain.ErrBusy
	case pqCheckViolation:
		if pqErr.Constraint == balanceConstraint {
			return domain.ErrInsufficientFunds
		}
	}
	return err
}
