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

// MeterServiceImpl implements ports.MeterService.
type MeterServiceImpl struct {
	meterRepo ports.MeterRepository
	log       zerolog.Logger
}

// NewMeterService creates a new MeterServiceImpl.
func NewMeterService(meterRepo ports.MeterRepository, log zerolog.Logger) *MeterServiceImpl {
	return &MeterServiceImpl{meterRepo: meterRepo, log: log}
}

// Register records a new active meter for the account. Meter numbers
// are globally unique.
func (s *MeterServiceImpl) Register(ctx context.Context, accountID uuid.UUID, meterNumber, label string) (*domain.Meter, error) {
	existing, err := s.meterRepo.GetByNumber(ctx, meterNumber)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check meter number: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateMeter()
	}

	now := time.Now().UTC()
	meter := &domain.Meter{
		ID:          uuid.New(),
		AccountID:   accountID,
		MeterNumber: meterNumber,
		Label:       label,
		Status:      domain.MeterStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.meterRepo.Create(ctx, meter); err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.ErrDuplicateMeter()
		}
		return nil, apperror.InternalError(fmt.Errorf("create meter: %w", err))
	}

	s.log.Info().
		Str("meter_id", meter.ID.String()).
		Str("meter_number", meterNumber).
		Str("account_id", accountID.String()).
		Msg("meter registered")

	return meter, nil
}

// List returns all meters registered to the account.
func (s *MeterServiceImpl) List(ctx context.Context, accountID uuid.UUID) ([]domain.Meter, error) {
	meters, err := s.meterRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list meters: %w", err))
	}
	return meters, nil
}

// Deactivate marks a meter INACTIVE. Deactivating an already inactive
// meter is a no-op.
func (s *MeterServiceImpl) Deactivate(ctx context.Context, accountID, meterID uuid.UUID) error {
	meter, err := s.meterRepo.GetByID(ctx, meterID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get meter: %w", err))
	}
	if meter == nil || meter.AccountID != accountID {
		return apperror.ErrNotFound("meter")
	}
	if meter.Status == domain.MeterStatusInactive {
		return nil
	}

	if err := s.meterRepo.UpdateStatus(ctx, meterID, domain.MeterStatusInactive); err != nil {
		return apperror.InternalError(fmt.Errorf("deactivate meter: %w", err))
	}

	s.log.Info().
		Str("meter_id", meterID.String()).
		Msg("meter deactivated")

	return nil
}
