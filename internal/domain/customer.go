package domain

import "time"

// Customer owns exactly one balance, held in minor units.
type Customer struct {
	ID            int64
	Username      string
	AccountNumber string
	Name          string
	Email         string
	Balance       int64
	AccountTypeID int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
