package domain

import "time"

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
)

func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusClosed:
		return true
	}
	return false
}

// Account is an account-type descriptor shared by many customers. Closing it
// closes every customer that references it.
type Account struct {
	ID         int64
	Type       string
	MinBalance int64
	Status     AccountStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Account) IsClosed() bool {
	return a.Status == AccountStatusClosed
}
