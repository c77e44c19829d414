// Package ledger is the transfer engine. Every balance change goes through it
// together with its transaction record and outbox event, in a single tx.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/customer-ledger/internal/config"
	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

type customerRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
	GetByUsername(ctx context.Context, username string) (*domain.Customer, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*domain.Customer, error)
	AdjustBalance(ctx context.Context, tx *sql.Tx, id int64, delta int64) (int64, error)
}

type accountRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetForShare(ctx context.Context, tx *sql.Tx, id int64) (*domain.Account, error)
}

type transactionRepo interface {
	ReserveIDs(ctx context.Context, tx *sql.Tx, n int) ([]int64, error)
	Append(ctx context.Context, tx *sql.Tx, rec *domain.TransactionRecord) error
	GetByID(ctx context.Context, id int64) (*domain.TransactionRecord, error)
	ListByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]domain.TransactionRecord, int, error)
	Reconcile(ctx context.Context, customerID int64) (*domain.Reconciliation, error)
}

type outboxRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.OutboxEvent) error
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Notifier is told after a commit that new outbox events are waiting.
type Notifier interface {
	Notify()
}

type Service struct {
	customers    customerRepo
	accounts     accountRepo
	transactions transactionRepo
	outbox       outboxRepo
	db           txBeginner
	notifier     Notifier
	config       *config.Config
}

func NewService(
	customers customerRepo,
	accounts accountRepo,
	transactions transactionRepo,
	outbox outboxRepo,
	db txBeginner,
	notifier Notifier,
	cfg *config.Config,
) *Service {
	return &Service{
		customers:    customers,
		accounts:     accounts,
		transactions: transactions,
		outbox:       outbox,
		db:           db,
		notifier:     notifier,
		config:       cfg,
	}
}

func (s *Service) ResolveCustomer(ctx context.Context, username string) (*domain.Customer, error) {
	c, err := s.customers.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ResolveCustomer: %w", err)
	}
	return c, nil
}

func (s *Service) GetTransactionByID(ctx context.Context, id int64) (*domain.TransactionRecord, error) {
	rec, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionByID: %w", err)
	}
	return rec, nil
}

// GetTransactionForCustomer hides records owned by someone else behind NotFound.
func (s *Service) GetTransactionForCustomer(ctx context.Context, id, customerID int64) (*domain.TransactionRecord, error) {
	rec, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionForCustomer: %w", err)
	}
	if rec.CustomerID != customerID {
		return nil, fmt.Errorf("GetTransactionForCustomer: %w", domain.ErrNotFound)
	}
	return rec, nil
}

// ListTransactionsForCustomer returns a page of history, most recent first.
// limit is clamped to the configured bounds.
func (s *Service) ListTransactionsForCustomer(ctx context.Context, customerID int64, limit, offset int) ([]domain.TransactionRecord, int, error) {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, 0, fmt.Errorf("ListTransactionsForCustomer: %w", err)
	}

	limit = s.clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.transactions.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTransactionsForCustomer: %w", err)
	}
	return records, total, nil
}

// Reconcile checks that the stored balance equals credits minus debits.
func (s *Service) Reconcile(ctx context.Context, customerID int64) (*domain.Reconciliation, error) {
	rec, err := s.transactions.Reconcile(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	return rec, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.config.ListDefaultLimit
	}
	if limit > s.config.ListMaxLimit {
		return s.config.ListMaxLimit
	}
	return limit
}

func (s *Service) writeOutboxEvent(ctx context.Context, tx *sql.Tx, rec *domain.TransactionRecord, accountNumber string) error {
	event, err := domain.NewOutboxEvent(rec, accountNumber)
	if err != nil {
		return fmt.Errorf("writeOutboxEvent: %w", err)
	}
	if err := s.outbox.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("writeOutboxEvent: %w", err)
	}
	return nil
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}
