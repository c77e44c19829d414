package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

func SeedAccountType(t *testing.T, db *sql.DB, accountType string, status domain.AccountStatus) *domain.Account {
	t.Helper()

	a := &domain.Account{Type: accountType, Status: status}
	err := db.QueryRow(
		`INSERT INTO accounts (type, min_balance, status) VALUES ($1, 0, $2)
		 RETURNING id, created_at, updated_at`,
		accountType, status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		t.Fatalf("seed account type %s: %v", accountType, err)
	}
	return a
}

// SeedCustomer creates a customer whose opening balance is backed by a CREDIT
// record, so balance and ledger agree from the start. An empty username is
// replaced with a random one.
func SeedCustomer(t *testing.T, db *sql.DB, accountTypeID int64, username string, balance int64) *domain.Customer {
	t.Helper()

	if username == "" {
		username = fmt.Sprintf("%s_%d", gofakeit.Username(), gofakeit.Number(100000, 999999))
	}

	c := &domain.Customer{
		Username:      username,
		AccountNumber: gofakeit.Numerify("##########"),
		Name:          gofakeit.Name(),
		Email:         gofakeit.Email(),
		Balance:       balance,
		AccountTypeID: accountTypeID,
	}

	err := db.QueryRow(
		`INSERT INTO customers (username, account_number, name, email, balance, account_type_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
		c.Username, c.AccountNumber, c.Name, c.Email, c.Balance, c.AccountTypeID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		t.Fatalf("seed customer %s: %v", username, err)
	}

	if balance > 0 {
		_, err = db.Exec(
			`INSERT INTO transactions (type, customer_id, credit, created_at) VALUES ('CREDIT', $1, $2, $3)`,
			c.ID, balance, time.Now().UTC().Add(-time.Hour),
		)
		if err != nil {
			t.Fatalf("seed opening credit for %s: %v", username, err)
		}
	}
	return c
}

func GetBalance(t *testing.T, db *sql.DB, customerID int64) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM customers WHERE id = $1`, customerID).Scan(&balance)
	if err != nil {
		t.Fatalf("get balance %d: %v", customerID, err)
	}
	return balance
}

func CountTransactions(t *testing.T, db *sql.DB, customerID int64) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE customer_id = $1`, customerID).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions for %d: %v", customerID, err)
	}
	return count
}

func CountOutboxEvents(t *testing.T, db *sql.DB, status domain.OutboxStatus) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox_events WHERE status = $1`, status).Scan(&count)
	if err != nil {
		t.Fatalf("count outbox events %s: %v", status, err)
	}
	return count
}
