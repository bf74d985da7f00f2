package domain

import (
	"time"

	"github.com/google/uuid"
)

// MeterStatus is the lifecycle state of a registered meter.
type MeterStatus string

const (
	MeterStatusActive   MeterStatus = "ACTIVE"
	MeterStatusInactive MeterStatus = "INACTIVE"
)

// Meter is a prepaid utility meter registered to an account. Meter
// numbers are unique across the system.
type Meter struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	MeterNumber string
	Label       string
	Status      MeterStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Rechargeable reports whether the meter can accept recharge tokens.
func (m *Meter) Rechargeable() bool {
	return m.Status == MeterStatusActive
}
