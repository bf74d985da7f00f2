package service

import (
	"context"
	"fmt"
	"time"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// WalletLedgerImpl implements ports.WalletLedger. All methods run
// inside the caller's database transaction and rely on FOR UPDATE row
// locks, so two concurrent reservations against one account serialize
// on the account row.
type WalletLedgerImpl struct {
	accountRepo ports.AccountRepository
	entryRepo   ports.LedgerEntryRepository
	log         zerolog.Logger
}

// NewWalletLedger creates a new WalletLedgerImpl.
func NewWalletLedger(
	accountRepo ports.AccountRepository,
	entryRepo ports.LedgerEntryRepository,
	log zerolog.Logger,
) *WalletLedgerImpl {
	return &WalletLedgerImpl{
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		log:         log,
	}
}

// Reserve debits amount from the account balance and opens a RESERVED
// ledger entry. The balance can never go negative: the check and the
// decrement happen under the same row lock.
func (l *WalletLedgerImpl) Reserve(ctx context.Context, tx pgx.Tx, accountID, transactionID uuid.UUID, amount int64) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, apperror.Validation("reservation amount must be positive")
	}

	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}

	if !account.CanReserve(amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	if err := l.accountRepo.UpdateBalance(ctx, tx, accountID, account.Balance-amount); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("debit balance: %w", err))
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     accountID,
		TransactionID: transactionID,
		Amount:        amount,
		Status:        domain.EntryReserved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create ledger entry: %w", err))
	}

	l.log.Debug().
		Str("entry_id", entry.ID.String()).
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Msg("balance reserved")

	return entry, nil
}

// Commit marks a reservation consumed. Committing twice is a no-op;
// committing a released reservation is an error.
func (l *WalletLedgerImpl) Commit(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
	entry, err := l.entryRepo.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock ledger entry: %w", err))
	}
	if entry == nil {
		return apperror.ErrNotFound("ledger entry")
	}

	switch entry.Status {
	case domain.EntryCommitted:
		return nil
	case domain.EntryReleased:
		return apperror.ErrReservationReleased()
	}

	return l.entryRepo.UpdateStatus(ctx, tx, entryID, domain.EntryCommitted)
}

// Release restores the held amount to the account balance. Releasing
// twice is a no-op; releasing a committed reservation is an error.
func (l *WalletLedgerImpl) Release(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
	entry, err := l.entryRepo.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock ledger entry: %w", err))
	}
	if entry == nil {
		return apperror.ErrNotFound("ledger entry")
	}

	switch entry.Status {
	case domain.EntryReleased:
		return nil
	case domain.EntryCommitted:
		return apperror.ErrReservationReleased()
	}

	if err := l.restore(ctx, tx, entry.AccountID, entry.Amount); err != nil {
		return err
	}

	return l.entryRepo.UpdateStatus(ctx, tx, entryID, domain.EntryReleased)
}

// ReleaseExcess returns part of a reservation to the wallet, shrinking
// the hold. The reservation stays RESERVED for the rest.
func (l *WalletLedgerImpl) ReleaseExcess(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, excess int64) error {
	if excess <= 0 {
		return apperror.Validation("excess must be positive")
	}

	entry, err := l.entryRepo.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock ledger entry: %w", err))
	}
	if entry == nil {
		return apperror.ErrNotFound("ledger entry")
	}
	if entry.Status != domain.EntryReserved {
		return apperror.ErrReservationReleased()
	}
	if excess > entry.Amount {
		return apperror.Validation("excess exceeds reserved amount")
	}

	if err := l.restore(ctx, tx, entry.AccountID, excess); err != nil {
		return err
	}

	return l.entryRepo.UpdateAmount(ctx, tx, entryID, entry.Amount-excess)
}

func (l *WalletLedgerImpl) restore(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) error {
	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}
	if account == nil {
		return apperror.ErrNotFound("account")
	}
	if err := l.accountRepo.UpdateBalance(ctx, tx, accountID, account.Balance+amount); err != nil {
		return apperror.InternalError(fmt.Errorf("credit balance: %w", err))
	}
	return nil
}
