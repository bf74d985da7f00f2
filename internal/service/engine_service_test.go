package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"meterpay/config"
	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/internal/core/ports/mocks"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type engineTestDeps struct {
	svc        *EngineServiceImpl
	txRepo     *mocks.MockTransactionRepository
	meterRepo  *mocks.MockMeterRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	ledger     *mocks.MockWalletLedger
	allocator  *mocks.MockDebtAllocator
	tokenGen   *mocks.MockRechargeTokenGenerator
	authorizer *mocks.MockPaymentAuthorizer
	encSvc     *mocks.MockEncryptionService
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupEngine(t *testing.T) *engineTestDeps {
	ctrl := gomock.NewController(t)
	d := &engineTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		meterRepo:  mocks.NewMockMeterRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		ledger:     mocks.NewMockWalletLedger(ctrl),
		allocator:  mocks.NewMockDebtAllocator(ctrl),
		tokenGen:   mocks.NewMockRechargeTokenGenerator(ctrl),
		authorizer: mocks.NewMockPaymentAuthorizer(ctrl),
		encSvc:     mocks.NewMockEncryptionService(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewEngineService(
		d.txRepo, d.meterRepo, d.idempRepo, d.idempCache,
		d.ledger, d.allocator, d.tokenGen, d.authorizer,
		d.encSvc, d.transactor,
		config.FeeConfig{RechargeBps: 250, DebtPaymentBps: 100},
		zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func approved() *ports.AuthorizeResult {
	return &ports.AuthorizeResult{Approved: true, Reference: "AUTH-d1e2f3a4"}
}

// ==================== Submit: RECHARGE ====================

func TestEngineService_Submit_RechargeSuccess(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	meterID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k1",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k1")
	totalCharge := int64(41000) // 40000 + 250bps fee

	// Redis cache miss
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	// DB idempotency miss
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	// Phase 1: claim key
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	// Phase 2: authorize the full charge
	d.authorizer.EXPECT().Authorize(ctx, ports.AuthorizeRequest{
		AccountID:     accountID,
		Amount:        totalCharge,
		PaymentMethod: "WALLET",
	}).Return(approved(), nil)
	// Phase 3: reserve + recharge effect + finalize
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), totalCharge).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: totalCharge, Status: domain.EntryReserved}, nil)
	d.meterRepo.EXPECT().GetByNumber(ctx, "MTR-001").Return(&domain.Meter{
		ID:          meterID,
		AccountID:   accountID,
		MeterNumber: "MTR-001",
		Status:      domain.MeterStatusActive,
	}, nil)
	d.tokenGen.EXPECT().Generate(gomock.Any(), "MTR-001").Return("1234-5678-9012-3456-7890", nil)
	d.encSvc.EXPECT().Encrypt("1234-5678-9012-3456-7890").Return("enc_token", nil)
	d.ledger.EXPECT().Commit(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.StatusSucceeded, result.Transaction.Status)
	assert.Equal(t, int64(40000), result.Transaction.Amount)
	assert.Equal(t, int64(1000), result.Transaction.Fee)
	assert.Equal(t, "1234-5678-9012-3456-7890", result.Token)
	assert.Equal(t, "enc_token", result.Transaction.EncryptedToken)
	require.NotNil(t, result.Transaction.MeterID)
	assert.Equal(t, meterID, *result.Transaction.MeterID)
	assert.NotNil(t, result.Transaction.CompletedAt)
	assert.False(t, result.Replayed)
}

func TestEngineService_Submit_RechargeMeterNotFound(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-MISSING",
		Amount:         40000,
		IdempotencyKey: "k2",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k2")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), int64(41000)).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: 41000, Status: domain.EntryReserved}, nil)
	d.meterRepo.EXPECT().GetByNumber(ctx, "MTR-MISSING").Return(nil, nil)
	// Reservation released inside the same tx before the FAILED row commits
	d.ledger.EXPECT().Release(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailureTargetUnavailable, result.Transaction.FailureReason)
	assert.Empty(t, result.Token)
}

func TestEngineService_Submit_RechargeInactiveMeter(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-OFF",
		Amount:         10000,
		IdempotencyKey: "k3",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k3")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), int64(10250)).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: 10250, Status: domain.EntryReserved}, nil)
	d.meterRepo.EXPECT().GetByNumber(ctx, "MTR-OFF").Return(&domain.Meter{
		ID:          uuid.New(),
		AccountID:   accountID,
		MeterNumber: "MTR-OFF",
		Status:      domain.MeterStatusInactive,
	}, nil)
	d.ledger.EXPECT().Release(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailureTargetUnavailable, result.Transaction.FailureReason)
}

// ==================== Submit: DEBT_PAYMENT ====================

func TestEngineService_Submit_DebtPaymentTargeted(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	debtID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		DebtID:         &debtID,
		Amount:         30000,
		IdempotencyKey: "k4",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k4")
	totalCharge := int64(30300) // 30000 + 100bps fee

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), totalCharge).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: totalCharge, Status: domain.EntryReserved}, nil)
	d.allocator.EXPECT().Allocate(ctx, tx, accountID, &debtID, int64(30000)).Return(&ports.AllocationResult{
		Allocations: []domain.DebtAllocation{{DebtID: debtID, Applied: 30000}},
		Applied:     30000,
	}, nil)
	d.ledger.EXPECT().Commit(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, result.Transaction.Status)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, debtID, result.Allocations[0].DebtID)
	assert.Equal(t, int64(30000), result.Allocations[0].Applied)
	assert.Zero(t, result.Remainder)
}

func TestEngineService_Submit_DebtPaymentOldestFirstRemainder(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	debtID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		Amount:         50000, // spreads oldest-first, only 35000 owed
		IdempotencyKey: "k5",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k5")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), int64(50500)).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: 50500, Status: domain.EntryReserved}, nil)
	d.allocator.EXPECT().Allocate(ctx, tx, accountID, (*uuid.UUID)(nil), int64(50000)).Return(&ports.AllocationResult{
		Allocations: []domain.DebtAllocation{{DebtID: debtID, Applied: 35000}},
		Applied:     35000,
		Remainder:   15000,
	}, nil)
	// Unused portion shrinks the hold back into the wallet
	d.ledger.EXPECT().ReleaseExcess(ctx, tx, entryID, int64(15000)).Return(nil)
	d.ledger.EXPECT().Commit(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, result.Transaction.Status)
	assert.Equal(t, int64(15000), result.Remainder)
}

func TestEngineService_Submit_DebtPaymentOverpaymentFails(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	debtID := uuid.New()
	entryID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		DebtID:         &debtID,
		Amount:         80000,
		IdempotencyKey: "k6",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k6")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), int64(80800)).
		Return(&domain.LedgerEntry{ID: entryID, AccountID: accountID, Amount: 80800, Status: domain.EntryReserved}, nil)
	d.allocator.EXPECT().Allocate(ctx, tx, accountID, &debtID, int64(80000)).
		Return(nil, apperror.ErrOverpaymentNotAllowed())
	d.ledger.EXPECT().Release(ctx, tx, entryID).Return(nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailureOverpaymentNotAllowed, result.Transaction.FailureReason)
}

// ==================== Submit: funding & authorization failures ====================

func TestEngineService_Submit_InsufficientFunds(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k7",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k7")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).Return(nil)
	d.ledger.EXPECT().Reserve(ctx, tx, accountID, gomock.Any(), int64(41000)).
		Return(nil, apperror.ErrInsufficientFunds())
	// No reservation to release; the FAILED row still commits
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailureInsufficientFunds, result.Transaction.FailureReason)
}

func TestEngineService_Submit_PaymentDeclined(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k8",
		PaymentMethod:  "BLOCKED_CARD",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k8")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(&ports.AuthorizeResult{
		Approved: false,
		Detail:   "payment method declined by issuer",
	}, nil)
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailurePaymentDeclined, result.Transaction.FailureReason)
	assert.Equal(t, "payment method declined by issuer", result.Transaction.FailureDetail)
}

func TestEngineService_Submit_AuthorizerUnavailable(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k9",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k9")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(2)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(nil, errors.New("gateway timeout"))
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Transaction.Status)
	assert.Equal(t, domain.FailureSystemError, result.Transaction.FailureReason)
}

func TestEngineService_Submit_StorageFaultFinalizesClaimedRow(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k10",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k10")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	// Claim, the faulted execute, and the follow-up finalization each
	// open their own database transaction.
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).Times(3)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.authorizer.EXPECT().Authorize(ctx, gomock.Any()).Return(approved(), nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, gomock.Any(), domain.StatusAuthorizing).
		Return(errors.New("connection reset"))

	// The claimed key must not stay PENDING: the row is finalized
	// FAILED in a fresh transaction even though the caller sees an error.
	var finalized *domain.Transaction
	d.txRepo.EXPECT().Finalize(ctx, tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			finalized = txn
			return nil
		})
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)

	result, err := d.svc.Submit(ctx, req)
	assert.Nil(t, result)
	assertAppError(t, err, "SYS_001")
	require.NotNil(t, finalized)
	assert.Equal(t, domain.StatusFailed, finalized.Status)
	assert.Equal(t, domain.FailureSystemError, finalized.FailureReason)
}

// ==================== Submit: idempotency ====================

func TestEngineService_Submit_RedisReplay(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:          uuid.New(),
			MeterNumber: "MTR-001",
			Kind:        domain.KindRecharge,
			Status:      domain.StatusSucceeded,
			Amount:      40000,
		},
		Token: "1111-2222-3333-4444-5555",
	}
	cachedJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-cached")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cachedJSON, nil)

	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k-cached",
		PaymentMethod:  "WALLET",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, prior.Transaction.ID, result.Transaction.ID)
	assert.Equal(t, prior.Token, result.Token)
}

func TestEngineService_Submit_DBReplay(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:     uuid.New(),
			Kind:   domain.KindDebtPayment,
			Status: domain.StatusSucceeded,
			Amount: 30000,
		},
	}
	priorJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-db")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: prior.Transaction.ID,
		ResponseJSON:  priorJSON,
	}, nil)

	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		Amount:         30000,
		IdempotencyKey: "k-db",
		PaymentMethod:  "WALLET",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, prior.Transaction.ID, result.Transaction.ID)
}

func TestEngineService_Submit_ReplayPayloadMismatch(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:          uuid.New(),
			MeterNumber: "MTR-001",
			Kind:        domain.KindRecharge,
			Status:      domain.StatusSucceeded,
			Amount:      40000,
		},
	}
	cachedJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-mismatch")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cachedJSON, nil)

	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         99999, // different amount, same key
		IdempotencyKey: "k-mismatch",
		PaymentMethod:  "WALLET",
	})
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

func TestEngineService_Submit_ReplayMeterMismatch(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:          uuid.New(),
			MeterNumber: "MTR-001",
			Kind:        domain.KindRecharge,
			Status:      domain.StatusSucceeded,
			Amount:      40000,
		},
		Token: "1111-2222-3333-4444-5555",
	}
	cachedJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-meter")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cachedJSON, nil)

	// Same amount and kind, but a different meter: the original token
	// must never be replayed against the wrong target.
	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-002",
		Amount:         40000,
		IdempotencyKey: "k-meter",
		PaymentMethod:  "WALLET",
	})
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

func TestEngineService_Submit_ReplayDebtMismatch(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	debtA := uuid.New()
	debtB := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:     uuid.New(),
			DebtID: &debtA,
			Kind:   domain.KindDebtPayment,
			Status: domain.StatusSucceeded,
			Amount: 30000,
		},
	}
	priorJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-debt")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: prior.Transaction.ID,
		ResponseJSON:  priorJSON,
	}, nil)

	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		DebtID:         &debtB, // same amount, different debt
		Amount:         30000,
		IdempotencyKey: "k-debt",
		PaymentMethod:  "WALLET",
	})
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

func TestEngineService_Submit_ReplayTargetedVsOldestFirst(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	debtA := uuid.New()

	prior := &ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:     uuid.New(),
			DebtID: &debtA,
			Kind:   domain.KindDebtPayment,
			Status: domain.StatusSucceeded,
			Amount: 30000,
		},
	}
	cachedJSON, _ := json.Marshal(prior)

	idempKey := domain.BuildIdempotencyKey(accountID, "k-untargeted")
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cachedJSON, nil)

	// Dropping the target changes the allocation semantics; a nil
	// debt id does not match the original targeted payment.
	result, err := d.svc.Submit(ctx, ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindDebtPayment,
		Amount:         30000,
		IdempotencyKey: "k-untargeted",
		PaymentMethod:  "WALLET",
	})
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

func TestEngineService_Submit_RaceLoserTargetConflict(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-002",
		Amount:         40000,
		IdempotencyKey: "k-race3",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k-race3")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).
		Return(&pgconn.PgError{Code: "23505"})
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, accountID, "k-race3").Return(&domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		MeterNumber: "MTR-001", // same amount, different meter
		Kind:        domain.KindRecharge,
		Status:      domain.StatusSucceeded,
		Amount:      40000,
	}, nil)

	result, err := d.svc.Submit(ctx, req)
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

func TestEngineService_Submit_RaceLoserReturnsWinner(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k-race",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k-race")

	winner := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		MeterNumber: "MTR-001",
		Kind:        domain.KindRecharge,
		Status:      domain.StatusPending,
		Amount:      40000,
	}

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).
		Return(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_account_idem_key"})
	// Loser re-reads the winner's state
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, accountID, "k-race").Return(winner, nil)

	result, err := d.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, winner.ID, result.Transaction.ID)
	assert.Equal(t, domain.StatusPending, result.Transaction.Status)
}

func TestEngineService_Submit_RaceLoserConflict(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	req := ports.SubmitRequest{
		AccountID:      accountID,
		Kind:           domain.KindRecharge,
		MeterNumber:    "MTR-001",
		Amount:         40000,
		IdempotencyKey: "k-race2",
		PaymentMethod:  "WALLET",
	}
	idempKey := domain.BuildIdempotencyKey(accountID, "k-race2")

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).
		Return(&pgconn.PgError{Code: "23505"})
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, accountID, "k-race2").Return(&domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      domain.KindRecharge,
		Status:    domain.StatusSucceeded,
		Amount:    12345, // different payload under the same key
	}, nil)

	result, err := d.svc.Submit(ctx, req)
	assert.Nil(t, result)
	assertAppError(t, err, "PAY_004")
}

// ==================== Submit: validation ====================

func TestEngineService_Submit_Validation(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	accountID := uuid.New()

	tests := []struct {
		name string
		req  ports.SubmitRequest
	}{
		{
			name: "zero amount",
			req: ports.SubmitRequest{
				AccountID: accountID, Kind: domain.KindRecharge,
				MeterNumber: "MTR-001", Amount: 0, IdempotencyKey: "k",
			},
		},
		{
			name: "negative amount",
			req: ports.SubmitRequest{
				AccountID: accountID, Kind: domain.KindRecharge,
				MeterNumber: "MTR-001", Amount: -500, IdempotencyKey: "k",
			},
		},
		{
			name: "missing idempotency key",
			req: ports.SubmitRequest{
				AccountID: accountID, Kind: domain.KindRecharge,
				MeterNumber: "MTR-001", Amount: 1000,
			},
		},
		{
			name: "recharge without meter number",
			req: ports.SubmitRequest{
				AccountID: accountID, Kind: domain.KindRecharge,
				Amount: 1000, IdempotencyKey: "k",
			},
		},
		{
			name: "unknown kind",
			req: ports.SubmitRequest{
				AccountID: accountID, Kind: "TRANSFER",
				Amount: 1000, IdempotencyKey: "k",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := d.svc.Submit(context.Background(), tt.req)
			assert.Nil(t, result)
			assertAppError(t, err, "VAL_001")
		})
	}
}

// ==================== Helper ====================

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
