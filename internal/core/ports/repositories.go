package ports

import (
	"context"

	"meterpay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository defines persistence operations for subscriber accounts.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, balance int64) error
}

// MeterRepository defines persistence operations for meters.
type MeterRepository interface {
	Create(ctx context.Context, meter *domain.Meter) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Meter, error)
	GetByNumber(ctx context.Context, meterNumber string) (*domain.Meter, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Meter, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MeterStatus) error
}

// DebtRepository defines persistence operations for debts.
// Settlement methods run inside the engine's transaction block.
type DebtRepository interface {
	Create(ctx context.Context, debt *domain.Debt) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Debt, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Debt, error)
	// ListOpenForUpdate locks all open debts for an account, oldest first.
	ListOpenForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) ([]domain.Debt, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, openOnly bool) ([]domain.Debt, error)
	ApplyPayment(ctx context.Context, tx pgx.Tx, debt *domain.Debt) error
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error
	// Finalize writes the terminal status plus outcome fields in one statement.
	Finalize(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	// Reporting queries
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, accountID uuid.UUID, periodStart *int64) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	AccountID uuid.UUID
	MeterID   *uuid.UUID
	Status    *domain.TransactionStatus
	Kind      *domain.TransactionKind
	From      *int64 // Unix timestamp
	To        *int64 // Unix timestamp
	Page      int
	PageSize  int
}

// TransactionStats holds aggregated statistics for dashboard.
type TransactionStats struct {
	TotalTransactions int64
	Succeeded         int64
	Failed            int64
	TotalRecharged    int64 // Sum of succeeded recharge amounts
	TotalDebtSettled  int64 // Sum of succeeded debt-payment amounts
	TotalFees         int64 // Sum of fees on succeeded transactions
}

// LedgerEntryRepository defines persistence for wallet reservations.
type LedgerEntryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LedgerEntry, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EntryStatus) error
	UpdateAmount(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
