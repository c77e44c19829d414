package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

// Transfer moves amount from the sender to the customer named toUsername and
// records one linked leg on each side.
func (s *Service) Transfer(ctx context.Context, fromCustomerID int64, toUsername string, amount int64) (*domain.TransferResult, error) {
	log := logging.FromContext(ctx)

	sender, receiver, err := s.resolveTransferParties(ctx, fromCustomerID, toUsername)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	senderAcct, err := s.accounts.GetByID(ctx, sender.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	receiverAcct, err := s.accounts.GetByID(ctx, receiver.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	if err := validateTransfer(amount, sender, receiver, senderAcct, receiverAcct); err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	result, err := s.executeTransfer(ctx, sender.ID, receiver.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	log.Info("transfer completed",
		"debit_transaction_id", result.Debit.ID,
		"credit_transaction_id", result.Credit.ID,
		"sender_id", sender.ID,
		"receiver_id", receiver.ID,
		"amount", amount,
	)
	return result, nil
}

func (s *Service) resolveTransferParties(ctx context.Context, fromCustomerID int64, toUsername string) (*domain.Customer, *domain.Customer, error) {
	sender, err := s.customers.GetByID(ctx, fromCustomerID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolveTransferParties: sender: %w", err)
	}

	receiver, err := s.customers.GetByUsername(ctx, toUsername)
	if err != nil {
		return nil, nil, fmt.Errorf("resolveTransferParties: receiver: %w", err)
	}

	return sender, receiver, nil
}

func (s *Service) executeTransfer(ctx context.Context, senderID, receiverID, amount int64) (*domain.TransferResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeTransfer: begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := lockCustomersInOrder(ctx, tx, s.customers, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("executeTransfer: %w", err)
	}
	sender, receiver := locked[senderID], locked[receiverID]

	senderAcct, err := s.accounts.GetForShare(ctx, tx, sender.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("executeTransfer: %w", err)
	}
	receiverAcct, err := s.accounts.GetForShare(ctx, tx, receiver.AccountTypeID)
	if err != nil {
		return nil, fmt.Errorf("executeTransfer: %w", err)
	}

	if err := validateTransfer(amount, sender, receiver, senderAcct, receiverAcct); err != nil {
		return nil, fmt.Errorf("executeTransfer: %w", err)
	}

	if _, err := s.customers.AdjustBalance(ctx, tx, senderID, -amount); err != nil {
		return nil, fmt.Errorf("executeTransfer: debit sender: %w", err)
	}
	if _, err := s.customers.AdjustBalance(ctx, tx, receiverID, amount); err != nil {
		return nil, fmt.Errorf("executeTransfer: credit receiver: %w", err)
	}

	result, err := s.writeTransferLegs(ctx, tx, senderID, receiverID, amount)
	if err != nil {
		return nil, fmt.Errorf("executeTransfer: %w", err)
	}

	if err := s.writeOutboxEvent(ctx, tx, result.Debit, sender.AccountNumber); err != nil {
		return nil, fmt.Errorf("executeTransfer: debit event: %w", err)
	}
	if err := s.writeOutboxEvent(ctx, tx, result.Credit, receiver.AccountNumber); err != nil {
		return nil, fmt.Errorf("executeTransfer: credit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executeTransfer: commit: %w", err)
	}

	s.notify()
	return result, nil
}

// writeTransferLegs inserts both legs with their final ids so each can point
// at the other without a later update.
func (s *Service) writeTransferLegs(ctx context.Context, tx *sql.Tx, senderID, receiverID, amount int64) (*domain.TransferResult, error) {
	ids, err := s.transactions.ReserveIDs(ctx, tx, 2)
	if err != nil {
		return nil, fmt.Errorf("writeTransferLegs: %w", err)
	}
	if len(ids) != 2 {
		return nil, fmt.Errorf("writeTransferLegs: reserved %d ids, want 2", len(ids))
	}
	debitID, creditID := ids[0], ids[1]

	now := time.Now().UTC().Truncate(time.Microsecond)

	debit := domain.NewDebitRecord(domain.TransactionTypeTransferDebit, senderID, amount, now)
	debit.ID = debitID
	debit.RefID = &creditID

	credit := domain.NewCreditRecord(domain.TransactionTypeTransferCredit, receiverID, amount, now)
	credit.ID = creditID
	credit.RefID = &debitID

	if err := s.transactions.Append(ctx, tx, debit); err != nil {
		return nil, fmt.Errorf("writeTransferLegs: debit: %w", err)
	}
	if err := s.transactions.Append(ctx, tx, credit); err != nil {
		return nil, fmt.Errorf("writeTransferLegs: credit: %w", err)
	}

	return &domain.TransferResult{Debit: debit, Credit: credit}, nil
}

type customerLocker interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Customer, error)
}

// lockCustomersInOrder takes row locks in ascending id order. Two transfers
// running in opposite directions therefore queue instead of deadlocking.
func lockCustomersInOrder(ctx context.Context, tx *sql.Tx, customers customerLocker, ids ...int64) (map[int64]*domain.Customer, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	result := make(map[int64]*domain.Customer, len(sorted))
	for _, id := range sorted {
		c, err := customers.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lockCustomersInOrder: %w", err)
		}
		result[id] = c
	}
	return result, nil
}
