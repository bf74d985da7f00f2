package service

import (
	"context"
	"fmt"
	"time"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DebtServiceImpl implements ports.DebtService.
type DebtServiceImpl struct {
	debtRepo  ports.DebtRepository
	meterRepo ports.MeterRepository
	log       zerolog.Logger
}

// NewDebtService creates a new DebtServiceImpl.
func NewDebtService(
	debtRepo ports.DebtRepository,
	meterRepo ports.MeterRepository,
	log zerolog.Logger,
) *DebtServiceImpl {
	return &DebtServiceImpl{
		debtRepo:  debtRepo,
		meterRepo: meterRepo,
		log:       log,
	}
}

// Record registers a new open debt against the account.
func (s *DebtServiceImpl) Record(ctx context.Context, req ports.RecordDebtRequest) (*domain.Debt, error) {
	if req.Principal <= 0 {
		return nil, apperror.Validation("principal must be positive")
	}
	if req.Reference == "" {
		return nil, apperror.Validation("reference is required")
	}

	if req.MeterID != nil {
		meter, err := s.meterRepo.GetByID(ctx, *req.MeterID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get meter: %w", err))
		}
		if meter == nil || meter.AccountID != req.AccountID {
			return nil, apperror.ErrNotFound("meter")
		}
	}

	now := time.Now().UTC()
	debt := &domain.Debt{
		ID:        uuid.New(),
		AccountID: req.AccountID,
		MeterID:   req.MeterID,
		Reference: req.Reference,
		Principal: req.Principal,
		Remaining: req.Principal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.debtRepo.Create(ctx, debt); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create debt: %w", err))
	}

	s.log.Info().
		Str("debt_id", debt.ID.String()).
		Str("account_id", req.AccountID.String()).
		Str("reference", req.Reference).
		Int64("principal", req.Principal).
		Msg("debt recorded")

	return debt, nil
}

// List returns the account's debts, optionally only open ones.
func (s *DebtServiceImpl) List(ctx context.Context, accountID uuid.UUID, openOnly bool) ([]domain.Debt, error) {
	debts, err := s.debtRepo.ListByAccount(ctx, accountID, openOnly)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list debts: %w", err))
	}
	return debts, nil
}

// Get returns one debt owned by the account.
func (s *DebtServiceImpl) Get(ctx context.Context, accountID, debtID uuid.UUID) (*domain.Debt, error) {
	debt, err := s.debtRepo.GetByID(ctx, debtID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get debt: %w", err))
	}
	if debt == nil || debt.AccountID != accountID {
		return nil, apperror.ErrNotFound("debt")
	}
	return debt, nil
}
