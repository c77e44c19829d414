package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

func (s *Service) Credit(ctx context.Context, customerID, amount int64) (*domain.TransactionRecord, error) {
	rec, err := s.applySingleLeg(ctx, domain.TransactionTypeCredit, customerID, amount)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	logging.FromContext(ctx).Info("credit completed",
		"transaction_id", rec.ID,
		"customer_id", customerID,
		"amount", amount,
	)
	return rec, nil
}

func (s *Service) Debit(ctx context.Context, customerID, amount int64) (*domain.TransactionRecord, error) {
	rec, err := s.applySingleLeg(ctx, domain.TransactionTypeDebit, customerID, amount)
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	logging.FromContext(ctx).Info("debit completed",
		"transaction_id", rec.ID,
		"customer_id", customerID,
		"amount", amount,
	)
	return rec, nil
}

func (s *Service) applySingleLeg(ctx context.Context, txType domain.TransactionType, customerID, amount int64) (*domain.TransactionRecord, error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	acct, err := s.accounts.GetByID(ctx, customer.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	if err := validateSingleLeg(txType, amount, customer, acct); err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("applySingleLeg: begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := s.customers.GetForUpdate(ctx, tx, customerID)
	if err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	// Status and funds may have changed between the pre-check and the lock.
	lockedAcct, err := s.accounts.GetForShare(ctx, tx, locked.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}
	if err := validateSingleLeg(txType, amount, locked, lockedAcct); err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	var rec *domain.TransactionRecord
	if txType.IsCredit() {
		rec = domain.NewCreditRecord(txType, customerID, amount, now)
	} else {
		rec = domain.NewDebitRecord(txType, customerID, amount, now)
	}

	if _, err := s.customers.AdjustBalance(ctx, tx, customerID, rec.Delta()); err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	if err := s.transactions.Append(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	if err := s.writeOutboxEvent(ctx, tx, rec, locked.AccountNumber); err != nil {
		return nil, fmt.Errorf("applySingleLeg: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("applySingleLeg: commit: %w", err)
	}

	s.notify()
	return rec, nil
}
