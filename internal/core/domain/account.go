package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a prepaid subscriber account. Balance is held in minor
// units (cents) and must never go negative.
type Account struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Balance      int64 // minor units
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanReserve reports whether the account balance covers amount.
func (a *Account) CanReserve(amount int64) bool {
	return a.Balance >= amount
}
