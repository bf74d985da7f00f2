package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meterpay/internal/adapter/http/dto"
	"meterpay/internal/adapter/http/middleware"
	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/internal/core/ports/mocks"
	"meterpay/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestContext builds a gin context carrying an authenticated account.
func newTestContext(t *testing.T, method, path string, body interface{}, accountID *uuid.UUID) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")

	if accountID != nil {
		c.Set(middleware.CtxAccountID, *accountID)
	}
	return c, w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

// ==================== Auth Handler ====================

func TestRegister_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	accountID := uuid.New()
	mockAuth.EXPECT().Register(gomock.Any(), "alice", "password123").Return(&domain.Account{
		ID:       accountID,
		Username: "alice",
	}, nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{
		Username: "alice",
		Password: "password123",
	}, nil)

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, accountID.String(), data["account_id"])
	assert.Equal(t, "alice", data["username"])
}

func TestRegister_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	// Empty body => binding error
	c, w := newTestContext(t, http.MethodPost, "/api/v1/auth/register", map[string]string{}, nil)

	h.Register(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_UsernameTaken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperror.ErrUsernameExists())

	c, w := newTestContext(t, http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{
		Username: "taken",
		Password: "password123",
	}, nil)

	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	expiry := time.Now().Add(24 * time.Hour)
	mockAuth.EXPECT().Login(gomock.Any(), "alice", "password123").Return("jwt_token", expiry, nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{
		Username: "alice",
		Password: "password123",
	}, nil)

	h.Login(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "jwt_token", data["token"])
	assert.Equal(t, float64(expiry.Unix()), data["expiry"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Login(gomock.Any(), "alice", "wrong").Return("", time.Time{}, apperror.ErrInvalidCredentials())

	c, w := newTestContext(t, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{
		Username: "alice",
		Password: "wrong",
	}, nil)

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ==================== Transaction Handler ====================

func TestSubmitTransaction_Recharge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	meterID := uuid.New()
	now := time.Now().UTC()
	completed := now

	mockEngine.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.SubmitRequest) (*ports.SubmitResult, error) {
			assert.Equal(t, accountID, req.AccountID)
			assert.Equal(t, domain.KindRecharge, req.Kind)
			assert.Equal(t, "MTR-100200", req.MeterNumber)
			assert.Equal(t, int64(40000), req.Amount)
			assert.Equal(t, "key-1", req.IdempotencyKey)
			return &ports.SubmitResult{
				Transaction: &domain.Transaction{
					ID:             uuid.New(),
					AccountID:      accountID,
					MeterID:        &meterID,
					Kind:           domain.KindRecharge,
					Status:         domain.StatusSucceeded,
					Amount:         40000,
					Fee:            1000,
					IdempotencyKey: "key-1",
					CreatedAt:      now,
					CompletedAt:    &completed,
				},
				Token: "1234-5678-9012-3456-7890",
			}, nil
		},
	)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", dto.TransactionRequest{
		Kind:           "RECHARGE",
		MeterNumber:    "MTR-100200",
		Amount:         40000,
		IdempotencyKey: "key-1",
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "SUCCEEDED", data["status"])
	assert.Equal(t, "1234-5678-9012-3456-7890", data["token"])
	assert.Equal(t, float64(1000), data["fee"])
	assert.Equal(t, meterID.String(), data["meter_id"])
}

func TestSubmitTransaction_DebtPaymentAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	debtID := uuid.New()
	now := time.Now().UTC()

	mockEngine.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.SubmitRequest) (*ports.SubmitResult, error) {
			require.NotNil(t, req.DebtID)
			assert.Equal(t, debtID, *req.DebtID)
			return &ports.SubmitResult{
				Transaction: &domain.Transaction{
					ID:        uuid.New(),
					AccountID: accountID,
					Kind:      domain.KindDebtPayment,
					Status:    domain.StatusSucceeded,
					Amount:    30000,
					Fee:       300,
					CreatedAt: now,
				},
				Allocations: []domain.DebtAllocation{{DebtID: debtID, Applied: 30000}},
			}, nil
		},
	)

	debtIDStr := debtID.String()
	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", dto.TransactionRequest{
		Kind:           "DEBT_PAYMENT",
		DebtID:         &debtIDStr,
		Amount:         30000,
		IdempotencyKey: "key-2",
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	allocations := data["allocations"].([]interface{})
	require.Len(t, allocations, 1)
	alloc := allocations[0].(map[string]interface{})
	assert.Equal(t, debtID.String(), alloc["debt_id"])
	assert.Equal(t, float64(30000), alloc["applied"])
}

func TestSubmitTransaction_ReplayedReturns200(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	mockEngine.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&ports.SubmitResult{
		Transaction: &domain.Transaction{
			ID:        uuid.New(),
			AccountID: accountID,
			Kind:      domain.KindRecharge,
			Status:    domain.StatusSucceeded,
			Amount:    40000,
			CreatedAt: time.Now().UTC(),
		},
		Token:    "1234-5678-9012-3456-7890",
		Replayed: true,
	}, nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", dto.TransactionRequest{
		Kind:           "RECHARGE",
		MeterNumber:    "MTR-100200",
		Amount:         40000,
		IdempotencyKey: "key-1",
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitTransaction_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	// Missing idempotency_key => binding error, engine never called
	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"kind":   "RECHARGE",
		"amount": 40000,
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitTransaction_InvalidDebtID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	bad := "not-a-uuid"
	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"kind":            "DEBT_PAYMENT",
		"debt_id":         bad,
		"amount":          30000,
		"idempotency_key": "key-3",
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitTransaction_NoAuthContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", dto.TransactionRequest{
		Kind:           "RECHARGE",
		MeterNumber:    "MTR-100200",
		Amount:         40000,
		IdempotencyKey: "key-1",
	}, nil)

	h.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitTransaction_EngineFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	mockEngine.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, apperror.InternalError(errors.New("db down")))

	c, w := newTestContext(t, http.MethodPost, "/api/v1/transactions", dto.TransactionRequest{
		Kind:           "RECHARGE",
		MeterNumber:    "MTR-100200",
		Amount:         40000,
		IdempotencyKey: "key-1",
	}, &accountID)

	h.Submit(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetTransaction_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	txID := uuid.New()
	mockReporting.EXPECT().GetTransaction(gomock.Any(), accountID, txID).Return(&domain.Transaction{
		ID:        txID,
		AccountID: accountID,
		Kind:      domain.KindRecharge,
		Status:    domain.StatusSucceeded,
		Amount:    40000,
		CreatedAt: time.Now().UTC(),
	}, "1234-5678-9012-3456-7890", nil)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/transactions/"+txID.String(), nil, &accountID)
	c.Params = gin.Params{{Key: "id", Value: txID.String()}}

	h.Get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, txID.String(), data["id"])
	assert.Equal(t, "1234-5678-9012-3456-7890", data["token"])
}

func TestGetTransaction_BadID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEngine := mocks.NewMockTransactionEngine(ctrl)
	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewTransactionHandler(mockEngine, mockReporting)

	accountID := uuid.New()
	c, w := newTestContext(t, http.MethodGet, "/api/v1/transactions/oops", nil, &accountID)
	c.Params = gin.Params{{Key: "id", Value: "oops"}}

	h.Get(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ==================== Wallet Handler ====================

func TestGetBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWallet := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(mockWallet)

	accountID := uuid.New()
	mockWallet.EXPECT().GetBalance(gomock.Any(), accountID).Return(int64(123456), nil)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/wallets/balance", nil, &accountID)

	h.GetBalance(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(123456), data["balance"])
}

func TestTopup_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWallet := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(mockWallet)

	accountID := uuid.New()
	mockWallet.EXPECT().Topup(gomock.Any(), accountID, int64(50000)).Return(int64(150000), nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/wallets/topup", dto.TopupRequest{Amount: 50000}, &accountID)

	h.Topup(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(150000), data["balance"])
}

func TestTopup_NonPositiveAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWallet := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(mockWallet)

	accountID := uuid.New()
	c, w := newTestContext(t, http.MethodPost, "/api/v1/wallets/topup", map[string]interface{}{
		"amount": -100,
	}, &accountID)

	h.Topup(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ==================== Meter Handler ====================

func TestRegisterMeter_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMeter := mocks.NewMockMeterService(ctrl)
	h := NewMeterHandler(mockMeter)

	accountID := uuid.New()
	meterID := uuid.New()
	mockMeter.EXPECT().Register(gomock.Any(), accountID, "MTR-100200", "kitchen").Return(&domain.Meter{
		ID:          meterID,
		AccountID:   accountID,
		MeterNumber: "MTR-100200",
		Label:       "kitchen",
		Status:      domain.MeterStatusActive,
		CreatedAt:   time.Now().UTC(),
	}, nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/meters", dto.MeterRegisterRequest{
		MeterNumber: "MTR-100200",
		Label:       "kitchen",
	}, &accountID)

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, meterID.String(), data["id"])
	assert.Equal(t, "ACTIVE", data["status"])
}

func TestRegisterMeter_Duplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMeter := mocks.NewMockMeterService(ctrl)
	h := NewMeterHandler(mockMeter)

	accountID := uuid.New()
	mockMeter.EXPECT().Register(gomock.Any(), accountID, "MTR-100200", "").Return(nil, apperror.ErrDuplicateMeter())

	c, w := newTestContext(t, http.MethodPost, "/api/v1/meters", dto.MeterRegisterRequest{
		MeterNumber: "MTR-100200",
	}, &accountID)

	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListMeters_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMeter := mocks.NewMockMeterService(ctrl)
	h := NewMeterHandler(mockMeter)

	accountID := uuid.New()
	mockMeter.EXPECT().List(gomock.Any(), accountID).Return([]domain.Meter{
		{ID: uuid.New(), AccountID: accountID, MeterNumber: "MTR-1", Status: domain.MeterStatusActive},
		{ID: uuid.New(), AccountID: accountID, MeterNumber: "MTR-2", Status: domain.MeterStatusInactive},
	}, nil)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/meters", nil, &accountID)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	items := data["items"].([]interface{})
	assert.Len(t, items, 2)
}

func TestDeactivateMeter_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMeter := mocks.NewMockMeterService(ctrl)
	h := NewMeterHandler(mockMeter)

	accountID := uuid.New()
	meterID := uuid.New()
	mockMeter.EXPECT().Deactivate(gomock.Any(), accountID, meterID).Return(nil)

	c, w := newTestContext(t, http.MethodDelete, "/api/v1/meters/"+meterID.String(), nil, &accountID)
	c.Params = gin.Params{{Key: "id", Value: meterID.String()}}

	h.Deactivate(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeactivateMeter_BadID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockMeter := mocks.NewMockMeterService(ctrl)
	h := NewMeterHandler(mockMeter)

	accountID := uuid.New()
	c, w := newTestContext(t, http.MethodDelete, "/api/v1/meters/oops", nil, &accountID)
	c.Params = gin.Params{{Key: "id", Value: "oops"}}

	h.Deactivate(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ==================== Debt Handler ====================

func TestRecordDebt_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDebt := mocks.NewMockDebtService(ctrl)
	h := NewDebtHandler(mockDebt)

	accountID := uuid.New()
	debtID := uuid.New()
	mockDebt.EXPECT().Record(gomock.Any(), ports.RecordDebtRequest{
		AccountID: accountID,
		Reference: "BILL-2024-07",
		Principal: 50000,
	}).Return(&domain.Debt{
		ID:        debtID,
		AccountID: accountID,
		Reference: "BILL-2024-07",
		Principal: 50000,
		Remaining: 50000,
		CreatedAt: time.Now().UTC(),
	}, nil)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/debts", dto.DebtRecordRequest{
		Reference: "BILL-2024-07",
		Principal: 50000,
	}, &accountID)

	h.Record(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, debtID.String(), data["id"])
	assert.Equal(t, float64(50000), data["remaining"])
}

func TestRecordDebt_InvalidMeterID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDebt := mocks.NewMockDebtService(ctrl)
	h := NewDebtHandler(mockDebt)

	accountID := uuid.New()
	c, w := newTestContext(t, http.MethodPost, "/api/v1/debts", map[string]interface{}{
		"meter_id":  "not-a-uuid",
		"reference": "BILL-1",
		"principal": 50000,
	}, &accountID)

	h.Record(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDebts_OpenFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDebt := mocks.NewMockDebtService(ctrl)
	h := NewDebtHandler(mockDebt)

	accountID := uuid.New()
	mockDebt.EXPECT().List(gomock.Any(), accountID, true).Return([]domain.Debt{
		{ID: uuid.New(), AccountID: accountID, Reference: "BILL-1", Principal: 50000, Remaining: 20000},
	}, nil)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/debts?open=true", nil, &accountID)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, float64(20000), item["remaining"])
}

func TestGetDebt_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDebt := mocks.NewMockDebtService(ctrl)
	h := NewDebtHandler(mockDebt)

	accountID := uuid.New()
	debtID := uuid.New()
	mockDebt.EXPECT().Get(gomock.Any(), accountID, debtID).Return(nil, apperror.ErrNotFound("debt"))

	c, w := newTestContext(t, http.MethodGet, "/api/v1/debts/"+debtID.String(), nil, &accountID)
	c.Params = gin.Params{{Key: "id", Value: debtID.String()}}

	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ==================== Dashboard Handler ====================

func TestGetStats_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	accountID := uuid.New()
	mockReporting.EXPECT().GetDashboardStats(gomock.Any(), accountID, "week").Return(&ports.TransactionStats{
		TotalTransactions: 10,
		Succeeded:         8,
		Failed:            2,
		TotalRecharged:    320000,
		TotalDebtSettled:  90000,
		TotalFees:         10250,
	}, nil)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/dashboard/stats?period=week", nil, &accountID)

	h.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(10), data["total_transactions"])
	assert.Equal(t, float64(8), data["succeeded"])
	assert.Equal(t, float64(320000), data["total_recharged"])
	assert.Equal(t, float64(10250), data["total_fees"])
}

func TestListTransactions_Pagination(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	accountID := uuid.New()
	mockReporting.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			assert.Equal(t, accountID, params.AccountID)
			assert.Equal(t, 2, params.Page)
			assert.Equal(t, 10, params.PageSize)
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.StatusSucceeded, *params.Status)
			return []domain.Transaction{
				{ID: uuid.New(), AccountID: accountID, Kind: domain.KindRecharge, Status: domain.StatusSucceeded, Amount: 40000, CreatedAt: time.Now().UTC()},
			}, 25, nil
		},
	)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/transactions?page=2&page_size=10&status=SUCCEEDED", nil, &accountID)

	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(25), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Equal(t, float64(3), data["total_pages"])
}

func TestListTransactions_ClampsPageSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	accountID := uuid.New()
	mockReporting.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			assert.Equal(t, 1, params.Page)
			assert.Equal(t, 20, params.PageSize)
			return nil, 0, nil
		},
	)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/transactions?page=0&page_size=9999", nil, &accountID)

	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ==================== Health Check ====================

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Name() string                 { return f.name }
func (f fakeChecker) Ping(_ context.Context) error { return f.err }

func TestHealthCheck_Healthy(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck(fakeChecker{name: "postgres"}, fakeChecker{name: "redis"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck(fakeChecker{name: "postgres"}, fakeChecker{name: "redis", err: errors.New("connection refused")}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}
