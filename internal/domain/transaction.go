package domain

import "time"

type TransactionType string

const (
	TransactionTypeCredit         TransactionType = "CREDIT"
	TransactionTypeDebit          TransactionType = "DEBIT"
	TransactionTypeTransferCredit TransactionType = "TRANSFER_CREDIT"
	TransactionTypeTransferDebit  TransactionType = "TRANSFER_DEBIT"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit,
		TransactionTypeTransferCredit, TransactionTypeTransferDebit:
		return true
	}
	return false
}

func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeCredit || t == TransactionTypeTransferCredit
}

// TransactionRecord is one immutable ledger leg. Exactly one of Credit and
// Debit is set. RefID links the two legs of a transfer to each other.
type TransactionRecord struct {
	ID         int64
	Type       TransactionType
	CustomerID int64
	Credit     *int64
	Debit      *int64
	RefID      *int64
	CreatedAt  time.Time
}

func NewCreditRecord(t TransactionType, customerID, amount int64, at time.Time) *TransactionRecord {
	return &TransactionRecord{Type: t, CustomerID: customerID, Credit: &amount, CreatedAt: at}
}

func NewDebitRecord(t TransactionType, customerID, amount int64, at time.Time) *TransactionRecord {
	return &TransactionRecord{Type: t, CustomerID: customerID, Debit: &amount, CreatedAt: at}
}

// Amount is the unsigned size of the leg.
func (r *TransactionRecord) Amount() int64 {
	if r.Credit != nil {
		return *r.Credit
	}
	if r.Debit != nil {
		return *r.Debit
	}
	return 0
}

// Delta is the signed effect of the leg on the owner's balance.
func (r *TransactionRecord) Delta() int64 {
	if r.Credit != nil {
		return *r.Credit
	}
	if r.Debit != nil {
		return -*r.Debit
	}
	return 0
}

type TransferResult struct {
	Debit  *TransactionRecord
	Credit *TransactionRecord
}

// Reconciliation compares a stored balance with the sum of its ledger legs.
type Reconciliation struct {
	CustomerID   int64
	Balance      int64
	TotalCredit  int64
	TotalDebit   int64
	LedgerAmount int64
}

func (r Reconciliation) Consistent() bool {
	return r.Balance == r.LedgerAmount
}
