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

// DebtAllocatorImpl implements ports.DebtAllocator. It runs inside the
// engine's database transaction so debt rows stay locked until the
// payment commits or rolls back.
type DebtAllocatorImpl struct {
	debtRepo ports.DebtRepository
	log      zerolog.Logger
}

// NewDebtAllocator creates a new DebtAllocatorImpl.
func NewDebtAllocator(debtRepo ports.DebtRepository, log zerolog.Logger) *DebtAllocatorImpl {
	return &DebtAllocatorImpl{debtRepo: debtRepo, log: log}
}

// Allocate applies a payment against the account's debts.
//
// Targeted: the full amount goes to one debt; paying more than its
// remaining balance is rejected. Untargeted: the amount spreads across
// open debts oldest first, and whatever is left over is reported as
// Remainder for the caller to return to the wallet.
func (a *DebtAllocatorImpl) Allocate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, debtID *uuid.UUID, amount int64) (*ports.AllocationResult, error) {
	if amount <= 0 {
		return nil, apperror.Validation("payment amount must be positive")
	}

	now := time.Now().UTC()

	if debtID != nil {
		return a.allocateTargeted(ctx, tx, accountID, *debtID, amount, now)
	}
	return a.allocateOldestFirst(ctx, tx, accountID, amount, now)
}

func (a *DebtAllocatorImpl) allocateTargeted(ctx context.Context, tx pgx.Tx, accountID, debtID uuid.UUID, amount int64, now time.Time) (*ports.AllocationResult, error) {
	debt, err := a.debtRepo.GetByIDForUpdate(ctx, tx, debtID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock debt: %w", err))
	}
	if debt == nil || debt.AccountID != accountID {
		return nil, apperror.ErrTargetUnavailable("debt not found")
	}
	if !debt.Open() {
		return nil, apperror.ErrTargetUnavailable("debt already settled")
	}
	if amount > debt.Remaining {
		return nil, apperror.ErrOverpaymentNotAllowed()
	}

	debt.Apply(amount, now)
	if err := a.debtRepo.ApplyPayment(ctx, tx, debt); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("apply debt payment: %w", err))
	}

	a.log.Debug().
		Str("debt_id", debt.ID.String()).
		Int64("applied", amount).
		Int64("remaining", debt.Remaining).
		Msg("targeted debt payment applied")

	return &ports.AllocationResult{
		Allocations: []domain.DebtAllocation{{DebtID: debt.ID, Applied: amount}},
		Applied:     amount,
	}, nil
}

func (a *DebtAllocatorImpl) allocateOldestFirst(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, now time.Time) (*ports.AllocationResult, error) {
	debts, err := a.debtRepo.ListOpenForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock open debts: %w", err))
	}
	if len(debts) == 0 {
		return nil, apperror.ErrTargetUnavailable("no open debts")
	}

	result := &ports.AllocationResult{}
	left := amount
	for i := range debts {
		if left == 0 {
			break
		}
		debt := &debts[i]
		applied := left
		if applied > debt.Remaining {
			applied = debt.Remaining
		}

		debt.Apply(applied, now)
		if err := a.debtRepo.ApplyPayment(ctx, tx, debt); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("apply debt payment: %w", err))
		}

		result.Allocations = append(result.Allocations, domain.DebtAllocation{DebtID: debt.ID, Applied: applied})
		result.Applied += applied
		left -= applied
	}
	result.Remainder = left

	a.log.Debug().
		Str("account_id", accountID.String()).
		Int64("applied", result.Applied).
		Int64("remainder", result.Remainder).
		Int("debts", len(result.Allocations)).
		Msg("debt payment allocated oldest-first")

	return result, nil
}
