package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the state of a wallet reservation.
//
// Transitions: RESERVED -> COMMITTED | RELEASED. Both are terminal.
type EntryStatus string

const (
	EntryReserved  EntryStatus = "RESERVED"
	EntryCommitted EntryStatus = "COMMITTED"
	EntryReleased  EntryStatus = "RELEASED"
)

// LedgerEntry is an audit record of a wallet hold. Reserving debits
// the account balance and writes a RESERVED entry; committing marks
// the hold consumed, releasing restores the balance. Amount is in
// minor units and always positive.
type LedgerEntry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	TransactionID uuid.UUID
	Amount        int64
	Status        EntryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settled reports whether the reservation has been resolved.
func (e *LedgerEntry) Settled() bool {
	return e.Status == EntryCommitted || e.Status == EntryReleased
}
