package ports

import (
	"context"
	"time"

	"meterpay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EncryptionService handles AES-256-GCM encryption/decryption. Recharge
// tokens are encrypted at rest and only decrypted for the owning account.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(accountID uuid.UUID, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	AccountID uuid.UUID
	Username  string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// WalletLedger manages balance holds inside a database transaction.
// Reserve debits the balance and opens a hold; Commit consumes it;
// Release restores the full amount; ReleaseExcess returns part of it.
type WalletLedger interface {
	Reserve(ctx context.Context, tx pgx.Tx, accountID, transactionID uuid.UUID, amount int64) (*domain.LedgerEntry, error)
	Commit(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error
	Release(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error
	ReleaseExcess(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, excess int64) error
}

// DebtAllocator applies a payment across an account's open debts.
type DebtAllocator interface {
	// Allocate settles up to amount against the targeted debt, or across
	// all open debts oldest-first when debtID is nil. It never overpays:
	// targeting a debt with amount greater than its remaining balance is
	// rejected, while untargeted payments report the unused remainder.
	Allocate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, debtID *uuid.UUID, amount int64) (*AllocationResult, error)
}

// AllocationResult describes how a debt payment was distributed.
type AllocationResult struct {
	Allocations []domain.DebtAllocation
	Applied     int64 // total settled across debts
	Remainder   int64 // unapplied portion, returned to the wallet
}

// RechargeTokenGenerator produces meter recharge tokens.
type RechargeTokenGenerator interface {
	Generate(transactionID uuid.UUID, meterNumber string) (string, error)
}

// PaymentAuthorizer is the external payment-method check performed
// before funds are moved. Implementations may call out to a gateway;
// the built-in one simulates issuer behavior.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)
}

// AuthorizeRequest holds input for payment-method authorization.
type AuthorizeRequest struct {
	AccountID     uuid.UUID
	Amount        int64
	PaymentMethod string
}

// AuthorizeResult holds the authorizer's decision.
type AuthorizeResult struct {
	Approved  bool
	Reference string // gateway-side reference
	Detail    string // decline detail when not approved
}

// TransactionEngine defines the core recharge / debt-settlement flow.
type TransactionEngine interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

// SubmitRequest holds validated input for transaction submission.
type SubmitRequest struct {
	AccountID      uuid.UUID
	Kind           domain.TransactionKind
	MeterNumber    string     // required for RECHARGE
	DebtID         *uuid.UUID // optional target for DEBT_PAYMENT
	Amount         int64
	IdempotencyKey string
	PaymentMethod  string
	ClientIP       string
}

// SubmitResult is the engine's outcome. Token is the plaintext recharge
// token for succeeded recharges. Replayed marks idempotent re-delivery
// of a prior result.
type SubmitResult struct {
	Transaction *domain.Transaction     `json:"transaction"`
	Token       string                  `json:"token,omitempty"`
	Allocations []domain.DebtAllocation `json:"allocations,omitempty"`
	Remainder   int64                   `json:"remainder,omitempty"`
	Replayed    bool                    `json:"-"`
}

// WalletService defines balance operations outside the engine flow.
type WalletService interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Topup(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) // returns new balance
}

// MeterService defines meter registry business logic.
type MeterService interface {
	Register(ctx context.Context, accountID uuid.UUID, meterNumber, label string) (*domain.Meter, error)
	List(ctx context.Context, accountID uuid.UUID) ([]domain.Meter, error)
	Deactivate(ctx context.Context, accountID, meterID uuid.UUID) error
}

// DebtService defines debt registry business logic.
type DebtService interface {
	Record(ctx context.Context, req RecordDebtRequest) (*domain.Debt, error)
	List(ctx context.Context, accountID uuid.UUID, openOnly bool) ([]domain.Debt, error)
	Get(ctx context.Context, accountID, debtID uuid.UUID) (*domain.Debt, error)
}

// RecordDebtRequest holds input for recording a debt.
type RecordDebtRequest struct {
	AccountID uuid.UUID
	MeterID   *uuid.UUID
	Reference string
	Principal int64
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.Account, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// ReportingService defines transaction query and dashboard logic.
type ReportingService interface {
	// GetTransaction returns a transaction owned by the account. For a
	// succeeded recharge, token carries the decrypted recharge token.
	GetTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, string, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetDashboardStats(ctx context.Context, accountID uuid.UUID, period string) (*TransactionStats, error)
}

// AuditService records audited actions (fire-and-forget).
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
