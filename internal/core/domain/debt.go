package domain

import (
	"time"

	"github.com/google/uuid"
)

// Debt is an outstanding obligation against an account, typically a
// past-due utility bill. Remaining decreases as payments are applied
// and the debt is closed when it reaches zero.
type Debt struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	MeterID   *uuid.UUID // optional: debt tied to a specific meter
	Reference string     // external bill reference
	Principal int64      // original amount, minor units
	Remaining int64      // unpaid portion, minor units
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Open reports whether the debt still carries an unpaid balance.
func (d *Debt) Open() bool {
	return d.Remaining > 0
}

// Apply reduces the remaining balance by amount. Amount must not
// exceed Remaining; callers validate overpayment before applying.
func (d *Debt) Apply(amount int64, now time.Time) {
	d.Remaining -= amount
	d.UpdatedAt = now
	if d.Remaining == 0 {
		closed := now
		d.ClosedAt = &closed
	}
}

// DebtAllocation records how much of a payment was applied to one debt.
type DebtAllocation struct {
	DebtID  uuid.UUID
	Applied int64
}
