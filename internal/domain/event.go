package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places between minor and major units.
const MinorUnitScale = 2

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusDispatched OutboxStatus = "dispatched"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxBacklog summarises events the relay has not delivered yet.
type OutboxBacklog struct {
	Pending       int
	Failed        int
	OldestPending *time.Time
}

// TransactionEvent is the wire payload published once per ledger leg.
type TransactionEvent struct {
	TransactionType TransactionType `json:"transactionType"`
	AccountNumber   string          `json:"accountNumber"`
	Amount          json.Number     `json:"amount"`
	Timestamp       string          `json:"timestamp"`
}

func NewTransactionEvent(rec *TransactionRecord, accountNumber string) TransactionEvent {
	return TransactionEvent{
		TransactionType: rec.Type,
		AccountNumber:   accountNumber,
		Amount:          json.Number(MajorUnits(rec.Amount()).StringFixed(MinorUnitScale)),
		Timestamp:       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// MajorUnits converts a minor-unit amount, e.g. 1050 -> 10.50.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale)
}

// OutboxEvent is an event intent written in the same tx as the ledger change.
type OutboxEvent struct {
	Seq           int64
	ID            uuid.UUID
	TransactionID int64
	CustomerID    int64
	EventType     TransactionType
	Payload       json.RawMessage
	Status        OutboxStatus
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

func NewOutboxEvent(rec *TransactionRecord, accountNumber string) (*OutboxEvent, error) {
	payload, err := json.Marshal(NewTransactionEvent(rec, accountNumber))
	if err != nil {
		return nil, fmt.Errorf("NewOutboxEvent: %w", err)
	}
	return &OutboxEvent{
		ID:            uuid.New(),
		TransactionID: rec.ID,
		CustomerID:    rec.CustomerID,
		EventType:     rec.Type,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: rec.CreatedAt,
		CreatedAt:     rec.CreatedAt,
	}, nil
}
