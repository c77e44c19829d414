package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountClosed     = errors.New("account closed")
	ErrSelfTransfer      = errors.New("cannot transfer to same account")
	ErrBusy              = errors.New("customer busy, lock wait timed out")
	ErrInvalidRequest    = errors.New("invalid request")
)
