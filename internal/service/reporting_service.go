package service

import (
	"context"
	"time"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo ports.TransactionRepository
	encSvc ports.EncryptionService
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	encSvc ports.EncryptionService,
) ports.ReportingService {
	return &reportingService{
		txRepo: txRepo,
		encSvc: encSvc,
	}
}

// GetTransaction returns one transaction owned by the account. For a
// succeeded recharge, the stored token is decrypted and returned
// alongside the transaction.
func (s *reportingService) GetTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, string, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, "", apperror.InternalError(err)
	}
	if txn == nil || txn.AccountID != accountID {
		return nil, "", apperror.ErrNotFound("transaction")
	}

	var token string
	if txn.Kind == domain.KindRecharge && txn.Status == domain.StatusSucceeded && txn.EncryptedToken != "" {
		token, err = s.encSvc.Decrypt(txn.EncryptedToken)
		if err != nil {
			return nil, "", apperror.ErrEncryptionFailure(err)
		}
	}

	return txn, token, nil
}

// ListTransactions returns a paginated list of transactions.
func (s *reportingService) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// GetDashboardStats returns aggregated transaction stats for the account.
func (s *reportingService) GetDashboardStats(ctx context.Context, accountID uuid.UUID, period string) (*ports.TransactionStats, error) {
	var periodStart *int64

	switch period {
	case "day":
		t := time.Now().AddDate(0, 0, -1).Unix()
		periodStart = &t
	case "week":
		t := time.Now().AddDate(0, 0, -7).Unix()
		periodStart = &t
	case "month":
		t := time.Now().AddDate(0, -1, 0).Unix()
		periodStart = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	stats, err := s.txRepo.GetStats(ctx, accountID, periodStart)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	return stats, nil
}
