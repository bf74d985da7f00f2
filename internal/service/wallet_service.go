package service

import (
	"context"
	"fmt"

	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	accountRepo ports.AccountRepository
	transactor  ports.DBTransactor
	log         zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	accountRepo ports.AccountRepository,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		accountRepo: accountRepo,
		transactor:  transactor,
		log:         log,
	}
}

// GetBalance returns the account's current balance in minor units.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get account: %w", err))
	}
	if account == nil {
		return 0, apperror.ErrNotFound("account")
	}
	return account.Balance, nil
}

// Topup credits the account balance and returns the new balance. The
// credit runs under a row lock so it composes with in-flight
// reservations.
func (s *WalletServiceImpl) Topup(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperror.Validation("topup amount must be positive")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	account, err := s.accountRepo.GetByIDForUpdate(ctx, dbTx, accountID)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("lock account: %w", err))
	}
	if account == nil {
		return 0, apperror.ErrNotFound("account")
	}

	newBalance := account.Balance + amount
	if err := s.accountRepo.UpdateBalance(ctx, dbTx, accountID, newBalance); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("credit balance: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Int64("new_balance", newBalance).
		Msg("wallet topped up")

	return newBalance, nil
}
