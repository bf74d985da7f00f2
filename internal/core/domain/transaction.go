package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransactionKind distinguishes the two supported operations.
type TransactionKind string

const (
	KindRecharge    TransactionKind = "RECHARGE"
	KindDebtPayment TransactionKind = "DEBT_PAYMENT"
)

// TransactionStatus is the lifecycle state of a transaction.
//
// Transitions: PENDING -> AUTHORIZING -> SUCCEEDED | FAILED.
// SUCCEEDED and FAILED are terminal.
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "PENDING"
	StatusAuthorizing TransactionStatus = "AUTHORIZING"
	StatusSucceeded   TransactionStatus = "SUCCEEDED"
	StatusFailed      TransactionStatus = "FAILED"
)

// FailureReason classifies why a transaction ended FAILED.
type FailureReason string

const (
	FailureInsufficientFunds      FailureReason = "INSUFFICIENT_FUNDS"
	FailureTargetUnavailable      FailureReason = "TARGET_UNAVAILABLE"
	FailureOverpaymentNotAllowed  FailureReason = "OVERPAYMENT_NOT_ALLOWED"
	FailurePaymentDeclined        FailureReason = "PAYMENT_DECLINED"
	FailureSystemError            FailureReason = "SYSTEM_ERROR"
)

// ErrInvalidTransition is returned when a status change violates the
// transaction state machine.
var ErrInvalidTransition = errors.New("invalid transaction status transition")

// Transaction is a single recharge or debt-payment attempt. Amount and
// Fee are in minor units. MeterNumber and DebtID record the submitted
// target exactly as the client sent it; MeterID is the resolved meter,
// set once the lookup succeeds. EncryptedToken holds the AES-encrypted
// recharge token for successful recharges; it is empty otherwise.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	MeterID        *uuid.UUID
	MeterNumber    string
	DebtID         *uuid.UUID
	Kind           TransactionKind
	Status         TransactionStatus
	Amount         int64
	Fee            int64
	IdempotencyKey string
	PaymentMethod  string
	FailureReason  FailureReason
	FailureDetail  string
	EncryptedToken string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Terminal reports whether the transaction has reached a final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// BeginAuthorizing moves the transaction from PENDING to AUTHORIZING.
func (t *Transaction) BeginAuthorizing(now time.Time) error {
	if t.Status != StatusPending {
		return ErrInvalidTransition
	}
	t.Status = StatusAuthorizing
	t.UpdatedAt = now
	return nil
}

// Succeed moves the transaction from AUTHORIZING to SUCCEEDED.
func (t *Transaction) Succeed(now time.Time) error {
	if t.Status != StatusAuthorizing {
		return ErrInvalidTransition
	}
	t.Status = StatusSucceeded
	t.UpdatedAt = now
	completed := now
	t.CompletedAt = &completed
	return nil
}

// Fail moves the transaction to FAILED with a reason. Allowed from
// PENDING and AUTHORIZING; terminal states reject further changes.
func (t *Transaction) Fail(reason FailureReason, detail string, now time.Time) error {
	if t.Terminal() {
		return ErrInvalidTransition
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	t.FailureDetail = detail
	t.UpdatedAt = now
	completed := now
	t.CompletedAt = &completed
	return nil
}

// TotalCharge is the amount plus fee debited from the wallet.
func (t *Transaction) TotalCharge() int64 {
	return t.Amount + t.Fee
}
