package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/customer-ledger/internal/config"
	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

var (
	openAcct   = &domain.Account{ID: 1, Type: "savings", Status: domain.AccountStatusActive}
	closedAcct = &domain.Account{ID: 2, Type: "legacy", Status: domain.AccountStatusClosed}
)

func customer(id, balance int64) *domain.Customer {
	return &domain.Customer{ID: id, Balance: balance}
}

func TestValidateSingleLeg(t *testing.T) {
	tests := []struct {
		name    string
		txType  domain.TransactionType
		amount  int64
		cust    *domain.Customer
		acct    *domain.Account
		wantErr error
	}{
		{
			name:   "credit",
			txType: domain.TransactionTypeCredit,
			amount: 50,
			cust:   customer(1, 100),
			acct:   openAcct,
		},
		{
			name:   "debit whole balance",
			txType: domain.TransactionTypeDebit,
			amount: 100,
			cust:   customer(1, 100),
			acct:   openAcct,
		},
		{
			name:    "zero amount",
			txType:  domain.TransactionTypeCredit,
			amount:  0,
			cust:    customer(1, 100),
			acct:    openAcct,
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			txType:  domain.TransactionTypeDebit,
			amount:  -5,
			cust:    customer(1, 100),
			acct:    openAcct,
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "invalid amount reported before closed account",
			txType:  domain.TransactionTypeCredit,
			amount:  0,
			cust:    customer(1, 100),
			acct:    closedAcct,
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "credit to closed account",
			txType:  domain.TransactionTypeCredit,
			amount:  10,
			cust:    customer(1, 100),
			acct:    closedAcct,
			wantErr: domain.ErrAccountClosed,
		},
		{
			name:    "closed account reported before insufficient funds",
			txType:  domain.TransactionTypeDebit,
			amount:  500,
			cust:    customer(1, 100),
			acct:    closedAcct,
			wantErr: domain.ErrAccountClosed,
		},
		{
			name:    "debit above balance",
			txType:  domain.TransactionTypeDebit,
			amount:  150,
			cust:    customer(1, 100),
			acct:    openAcct,
			wantErr: domain.ErrInsufficientFunds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSingleLeg(tc.txType, tc.amount, tc.cust, tc.acct)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateTransfer(t *testing.T) {
	tests := []struct {
		name         string
		amount       int64
		sender       *domain.Customer
		receiver     *domain.Customer
		senderAcct   *domain.Account
		receiverAcct *domain.Account
		wantErr      error
	}{
		{
			name:         "valid",
			amount:       30,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   openAcct,
			receiverAcct: openAcct,
		},
		{
			name:         "zero amount",
			amount:       0,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   openAcct,
			receiverAcct: openAcct,
			wantErr:      domain.ErrInvalidAmount,
		},
		{
			name:         "invalid amount reported before self transfer",
			amount:       -1,
			sender:       customer(1, 100),
			receiver:     customer(1, 100),
			senderAcct:   openAcct,
			receiverAcct: openAcct,
			wantErr:      domain.ErrInvalidAmount,
		},
		{
			name:         "self transfer",
			amount:       10,
			sender:       customer(1, 100),
			receiver:     customer(1, 100),
			senderAcct:   openAcct,
			receiverAcct: openAcct,
			wantErr:      domain.ErrSelfTransfer,
		},
		{
			name:         "self transfer reported before closed account",
			amount:       10,
			sender:       customer(1, 100),
			receiver:     customer(1, 100),
			senderAcct:   closedAcct,
			receiverAcct: closedAcct,
			wantErr:      domain.ErrSelfTransfer,
		},
		{
			name:         "sender closed",
			amount:       10,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   closedAcct,
			receiverAcct: openAcct,
			wantErr:      domain.ErrAccountClosed,
		},
		{
			name:         "receiver closed",
			amount:       10,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   openAcct,
			receiverAcct: closedAcct,
			wantErr:      domain.ErrAccountClosed,
		},
		{
			name:         "closed reported before insufficient funds",
			amount:       1000,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   openAcct,
			receiverAcct: closedAcct,
			wantErr:      domain.ErrAccountClosed,
		},
		{
			name:         "insufficient funds",
			amount:       101,
			sender:       customer(1, 100),
			receiver:     customer(2, 20),
			senderAcct:   openAcct,
			receiverAcct: openAcct,
			wantErr:      domain.ErrInsufficientFunds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTransfer(tc.amount, tc.sender, tc.receiver, tc.senderAcct, tc.receiverAcct)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

type recordingLocker struct {
	order []int64
	fail  map[int64]error
}

func (l *recordingLocker) GetForUpdate(_ context.Context, _ *sql.Tx, id int64) (*domain.Customer, error) {
	if err := l.fail[id]; err != nil {
		return nil, err
	}
	l.order = append(l.order, id)
	return &domain.Customer{ID: id}, nil
}

func TestLockCustomersInOrder(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		want []int64
	}{
		{"already ascending", []int64{3, 9}, []int64{3, 9}},
		{"descending", []int64{9, 3}, []int64{3, 9}},
		{"duplicates locked once", []int64{5, 5}, []int64{5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			locker := &recordingLocker{}
			locked, err := lockCustomersInOrder(context.Background(), nil, locker, tc.ids...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, locker.order)
			for _, id := range tc.ids {
				assert.Equal(t, id, locked[id].ID)
			}
		})
	}
}

func TestLockCustomersInOrder_StopsOnBusy(t *testing.T) {
	locker := &recordingLocker{fail: map[int64]error{3: domain.ErrBusy}}

	_, err := lockCustomersInOrder(context.Background(), nil, locker, 9, 3)
	require.ErrorIs(t, err, domain.ErrBusy)
	assert.Empty(t, locker.order, "no lock may be taken on 9 before 3")
}

type fakeTransactions struct {
	transactionRepo
	records map[int64]*domain.TransactionRecord
	limit   int
	offset  int
}

func (f *fakeTransactions) GetByID(_ context.Context, id int64) (*domain.TransactionRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeTransactions) ListByCustomer(_ context.Context, _ int64, limit, offset int) ([]domain.TransactionRecord, int, error) {
	f.limit, f.offset = limit, offset
	return nil, 0, nil
}

type fakeCustomers struct {
	customerRepo
	known map[int64]bool
}

func (f *fakeCustomers) GetByID(_ context.Context, id int64) (*domain.Customer, error) {
	if !f.known[id] {
		return nil, domain.ErrNotFound
	}
	return &domain.Customer{ID: id}, nil
}

func TestGetTransactionForCustomer(t *testing.T) {
	txs := &fakeTransactions{records: map[int64]*domain.TransactionRecord{
		10: {ID: 10, CustomerID: 1, Type: domain.TransactionTypeCredit},
	}}
	svc := &Service{transactions: txs}

	rec, err := svc.GetTransactionForCustomer(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.ID)

	_, err = svc.GetTransactionForCustomer(context.Background(), 10, 2)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetTransactionForCustomer(context.Background(), 11, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListTransactionsForCustomer_ClampsPage(t *testing.T) {
	cfg := &config.Config{ListDefaultLimit: 50, ListMaxLimit: 200}

	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{"default limit", 0, 0, 50, 0},
		{"within bounds", 20, 40, 20, 40},
		{"above max", 1000, 0, 200, 0},
		{"negative offset", 10, -3, 10, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			txs := &fakeTransactions{}
			svc := &Service{
				customers:    &fakeCustomers{known: map[int64]bool{1: true}},
				transactions: txs,
				config:       cfg,
			}

			_, _, err := svc.ListTransactionsForCustomer(context.Background(), 1, tc.limit, tc.offset)
			require.NoError(t, err)
			assert.Equal(t, tc.wantLimit, txs.limit)
			assert.Equal(t, tc.wantOffset, txs.offset)
		})
	}
}

func TestListTransactionsForCustomer_UnknownCustomer(t *testing.T) {
	svc := &Service{
		customers:    &fakeCustomers{},
		transactions: &fakeTransactions{},
		config:       &config.Config{ListDefaultLimit: 50, ListMaxLimit: 200},
	}

	_, _, err := svc.ListTransactionsForCustomer(context.Background(), 1, 10, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
