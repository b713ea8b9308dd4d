package repository

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateEvent is returned when the ledger insert hits the unique
	// constraint: this external event already produced an effect.
	ErrDuplicateEvent = errors.New("event already processed")
)
