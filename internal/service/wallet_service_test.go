package service

import (
	"context"
	"testing"

	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type walletTestDeps struct {
	svc         *WalletServiceImpl
	accountRepo *mocks.MockAccountRepository
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupWalletService(t *testing.T) *walletTestDeps {
	ctrl := gomock.NewController(t)
	d := &walletTestDeps{
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewWalletService(d.accountRepo, d.transactor, zerolog.Nop())
	return d
}

func TestWalletService_GetBalance(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	d.accountRepo.EXPECT().GetByID(ctx, accountID).Return(&domain.Account{
		ID:      accountID,
		Balance: 123456,
	}, nil)

	balance, err := d.svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), balance)
}

func TestWalletService_GetBalance_NotFound(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()

	d.accountRepo.EXPECT().GetByID(ctx, accountID).Return(nil, nil)

	_, err := d.svc.GetBalance(ctx, accountID)
	assertAppError(t, err, "RES_001")
}

func TestWalletService_Topup_Success(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(ctx, tx, accountID).Return(&domain.Account{
		ID:      accountID,
		Balance: 10000,
	}, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, accountID, int64(60000)).Return(nil)

	newBalance, err := d.svc.Topup(ctx, accountID, 50000)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), newBalance)
}

func TestWalletService_Topup_NonPositiveAmount(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Topup(context.Background(), uuid.New(), 0)
	assertAppError(t, err, "VAL_001")

	_, err = d.svc.Topup(context.Background(), uuid.New(), -100)
	assertAppError(t, err, "VAL_001")
}

func TestWalletService_Topup_AccountNotFound(t *testing.T) {
	d := setupWalletService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	accountID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(ctx, tx, accountID).Return(nil, nil)

	_, err := d.svc.Topup(ctx, accountID, 1000)
	assertAppError(t, err, "RES_001")
}
