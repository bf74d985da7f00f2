package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meterpay/config"
	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// EngineServiceImpl implements ports.TransactionEngine.
//
// A submission runs in three phases. First the PENDING row is inserted
// in its own short transaction; the unique (account_id, idempotency_key)
// constraint decides the winner of a concurrent duplicate race. Then
// the payment method is authorized outside any database transaction.
// Finally one transaction moves the row to AUTHORIZING, reserves the
// wallet balance, applies the recharge or debt-settlement effect and
// finalizes the outcome. Business failures (insufficient funds,
// unavailable target, overpayment, decline) finalize a FAILED row and
// return it without error; only validation, conflicts and system
// faults surface as errors.
type EngineServiceImpl struct {
	txRepo     ports.TransactionRepository
	meterRepo  ports.MeterRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	ledger     ports.WalletLedger
	allocator  ports.DebtAllocator
	tokenGen   ports.RechargeTokenGenerator
	authorizer ports.PaymentAuthorizer
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	fees       config.FeeConfig
	log        zerolog.Logger
}

// NewEngineService creates a new EngineServiceImpl.
func NewEngineService(
	txRepo ports.TransactionRepository,
	meterRepo ports.MeterRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	ledger ports.WalletLedger,
	allocator ports.DebtAllocator,
	tokenGen ports.RechargeTokenGenerator,
	authorizer ports.PaymentAuthorizer,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	fees config.FeeConfig,
	log zerolog.Logger,
) *EngineServiceImpl {
	return &EngineServiceImpl{
		txRepo:     txRepo,
		meterRepo:  meterRepo,
		idempRepo:  idempRepo,
		idempCache: idempCache,
		ledger:     ledger,
		allocator:  allocator,
		tokenGen:   tokenGen,
		authorizer: authorizer,
		encSvc:     encSvc,
		transactor: transactor,
		fees:       fees,
		log:        log,
	}
}

// Submit processes a recharge or debt-payment request.
func (s *EngineServiceImpl) Submit(ctx context.Context, req ports.SubmitRequest) (*ports.SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	idempKey := domain.BuildIdempotencyKey(req.AccountID, req.IdempotencyKey)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.replayResult(cached, req)
	}

	// Layer 2: DB idempotency check
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return s.replayResult(idempLog.ResponseJSON, req)
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:             uuid.New(),
		AccountID:      req.AccountID,
		MeterNumber:    req.MeterNumber,
		DebtID:         req.DebtID,
		Kind:           req.Kind,
		Status:         domain.StatusPending,
		Amount:         req.Amount,
		Fee:            s.fee(req),
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Phase 1: claim the idempotency key by inserting the PENDING row.
	claimed, result, err := s.claimKey(ctx, txn, req)
	if err != nil || !claimed {
		return result, err
	}

	// Phase 2: authorize the payment method before moving funds.
	auth, err := s.authorizer.Authorize(ctx, ports.AuthorizeRequest{
		AccountID:     req.AccountID,
		Amount:        txn.TotalCharge(),
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return s.finishFailed(ctx, txn, idempKey, domain.FailureSystemError, "authorizer unavailable")
	}
	if !auth.Approved {
		return s.finishFailed(ctx, txn, idempKey, domain.FailurePaymentDeclined, auth.Detail)
	}

	// Phase 3: reserve, apply the effect, finalize.
	result, err = s.execute(ctx, txn, req, idempKey)
	if err != nil && !txn.Terminal() {
		// A storage fault rolled the execute transaction back. The key
		// is still claimed by a PENDING row; finalize it in a fresh
		// transaction so every submission resolves to a terminal state.
		s.resolveFault(ctx, txn, idempKey)
	}
	return result, err
}

func validateSubmit(req ports.SubmitRequest) error {
	if req.Amount <= 0 {
		return apperror.Validation("amount must be positive")
	}
	if req.IdempotencyKey == "" {
		return apperror.Validation("idempotency_key is required")
	}
	switch req.Kind {
	case domain.KindRecharge:
		if req.MeterNumber == "" {
			return apperror.Validation("meter_number is required for recharge")
		}
	case domain.KindDebtPayment:
		// debt_id optional: nil means oldest-first allocation
	default:
		return apperror.Validation("kind must be RECHARGE or DEBT_PAYMENT")
	}
	return nil
}

// claimKey inserts the PENDING row. On a unique violation another
// request holds the key; the loser re-reads the winner's state.
func (s *EngineServiceImpl) claimKey(ctx context.Context, txn *domain.Transaction, req ports.SubmitRequest) (bool, *ports.SubmitResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if isUniqueViolation(err) {
			result, rerr := s.recoverWinner(ctx, txn.AccountID, req)
			return false, result, rerr
		}
		return false, nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return false, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return true, nil, nil
}

// recoverWinner returns the state persisted by the request that won
// the idempotency-key race.
func (s *EngineServiceImpl) recoverWinner(ctx context.Context, accountID uuid.UUID, req ports.SubmitRequest) (*ports.SubmitResult, error) {
	idempKey := domain.BuildIdempotencyKey(accountID, req.IdempotencyKey)
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err == nil && idempLog != nil {
		return s.replayResult(idempLog.ResponseJSON, req)
	}

	winner, err := s.txRepo.GetByIdempotencyKey(ctx, accountID, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load winning transaction: %w", err))
	}
	if winner == nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency key claimed but transaction missing"))
	}
	if !samePayload(winner, req) {
		return nil, apperror.ErrIdempotencyConflict()
	}
	return &ports.SubmitResult{Transaction: winner, Replayed: true}, nil
}

// samePayload reports whether a retry carries the same kind, amount and
// target as the stored transaction. A reused key with any of them
// changed is a conflict, never a replay.
func samePayload(txn *domain.Transaction, req ports.SubmitRequest) bool {
	if txn.Amount != req.Amount || txn.Kind != req.Kind {
		return false
	}
	if txn.MeterNumber != req.MeterNumber {
		return false
	}
	if (txn.DebtID == nil) != (req.DebtID == nil) {
		return false
	}
	return txn.DebtID == nil || *txn.DebtID == *req.DebtID
}

// execute runs the funded portion of the flow in one database
// transaction so a system fault rolls everything back, including the
// reservation.
func (s *EngineServiceImpl) execute(ctx context.Context, txn *domain.Transaction, req ports.SubmitRequest, idempKey string) (*ports.SubmitResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if err := txn.BeginAuthorizing(now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("transition to authorizing: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.StatusAuthorizing); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist authorizing status: %w", err))
	}

	// Hold the full charge (amount + fee) against the wallet.
	entry, err := s.ledger.Reserve(ctx, dbTx, txn.AccountID, txn.ID, txn.TotalCharge())
	if err != nil {
		if reason, detail, ok := businessFailure(err); ok {
			return s.failInTx(ctx, dbTx, txn, nil, idempKey, reason, detail)
		}
		return nil, err
	}

	result := &ports.SubmitResult{Transaction: txn}

	switch txn.Kind {
	case domain.KindRecharge:
		token, ferr := s.applyRecharge(ctx, dbTx, txn, req)
		if ferr != nil {
			if reason, detail, ok := businessFailure(ferr); ok {
				return s.failInTx(ctx, dbTx, txn, entry, idempKey, reason, detail)
			}
			return nil, ferr
		}
		result.Token = token

	case domain.KindDebtPayment:
		alloc, ferr := s.allocator.Allocate(ctx, dbTx, txn.AccountID, req.DebtID, txn.Amount)
		if ferr != nil {
			if reason, detail, ok := businessFailure(ferr); ok {
				return s.failInTx(ctx, dbTx, txn, entry, idempKey, reason, detail)
			}
			return nil, ferr
		}
		// Return the unused part of an oldest-first payment to the wallet.
		if alloc.Remainder > 0 {
			if err := s.ledger.ReleaseExcess(ctx, dbTx, entry.ID, alloc.Remainder); err != nil {
				return nil, err
			}
		}
		result.Allocations = alloc.Allocations
		result.Remainder = alloc.Remainder
	}

	if err := s.ledger.Commit(ctx, dbTx, entry.ID); err != nil {
		return nil, err
	}

	if err := txn.Succeed(time.Now().UTC()); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("transition to succeeded: %w", err))
	}
	if err := s.txRepo.Finalize(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("finalize transaction: %w", err))
	}

	respJSON, err := s.recordIdempotency(ctx, dbTx, txn, idempKey, result)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheResult(ctx, idempKey, respJSON)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("account_id", txn.AccountID.String()).
		Str("kind", string(txn.Kind)).
		Int64("amount", txn.Amount).
		Int64("fee", txn.Fee).
		Msg("transaction succeeded")

	return result, nil
}

// applyRecharge validates the meter and produces the encrypted token.
func (s *EngineServiceImpl) applyRecharge(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction, req ports.SubmitRequest) (string, error) {
	meter, err := s.meterRepo.GetByNumber(ctx, req.MeterNumber)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("find meter: %w", err))
	}
	if meter == nil || meter.AccountID != txn.AccountID {
		return "", apperror.ErrTargetUnavailable("meter not found")
	}
	if !meter.Rechargeable() {
		return "", apperror.ErrTargetUnavailable("meter is inactive")
	}
	txn.MeterID = &meter.ID

	token, err := s.tokenGen.Generate(txn.ID, meter.MeterNumber)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("generate recharge token: %w", err))
	}

	encToken, err := s.encSvc.Encrypt(token)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt recharge token: %w", err))
	}
	txn.EncryptedToken = encToken

	return token, nil
}

// failInTx finalizes a FAILED transaction inside the running database
// transaction. The reservation, if any, is released first so the
// balance restore commits together with the audit row.
func (s *EngineServiceImpl) failInTx(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction, entry *domain.LedgerEntry, idempKey string, reason domain.FailureReason, detail string) (*ports.SubmitResult, error) {
	if entry != nil {
		if err := s.ledger.Release(ctx, dbTx, entry.ID); err != nil {
			return nil, err
		}
	}

	if err := txn.Fail(reason, detail, time.Now().UTC()); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("transition to failed: %w", err))
	}
	if err := s.txRepo.Finalize(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("finalize failed transaction: %w", err))
	}

	result := &ports.SubmitResult{Transaction: txn}
	respJSON, err := s.recordIdempotency(ctx, dbTx, txn, idempKey, result)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.cacheResult(ctx, idempKey, respJSON)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("transaction failed")

	return result, nil
}

// finishFailed finalizes a FAILED transaction in its own database
// transaction, for failures that happen before any funds are held.
func (s *EngineServiceImpl) finishFailed(ctx context.Context, txn *domain.Transaction, idempKey string, reason domain.FailureReason, detail string) (*ports.SubmitResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	return s.failInTx(ctx, dbTx, txn, nil, idempKey, reason, detail)
}

// resolveFault finalizes a FAILED SYSTEM_ERROR row after a storage
// fault rolled the execute transaction back. Best-effort: the caller
// still sees the original error, but the claimed key stops pointing at
// a non-terminal row.
func (s *EngineServiceImpl) resolveFault(ctx context.Context, txn *domain.Transaction, idempKey string) {
	if _, err := s.finishFailed(ctx, txn, idempKey, domain.FailureSystemError, "internal fault during execution"); err != nil {
		s.log.Error().
			Err(err).
			Str("tx_id", txn.ID.String()).
			Msg("could not finalize transaction after storage fault")
	}
}

// recordIdempotency marshals the result and persists the idempotency
// log inside the running database transaction.
func (s *EngineServiceImpl) recordIdempotency(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction, idempKey string, result *ports.SubmitResult) ([]byte, error) {
	respJSON, err := json.Marshal(result)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}

	idempLog := &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txn.ID,
		ResponseJSON:  respJSON,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.idempRepo.Create(ctx, dbTx, idempLog); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
	}
	return respJSON, nil
}

// cacheResult stores the response in Redis (best-effort).
func (s *EngineServiceImpl) cacheResult(ctx context.Context, idempKey string, respJSON []byte) {
	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
}

// replayResult deserializes a cached result and verifies the retry
// carries the same payload as the original submission.
func (s *EngineServiceImpl) replayResult(data []byte, req ports.SubmitRequest) (*ports.SubmitResult, error) {
	result := &ports.SubmitResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached result: %w", err))
	}
	if result.Transaction == nil {
		return nil, apperror.InternalError(fmt.Errorf("cached result missing transaction"))
	}
	if !samePayload(result.Transaction, req) {
		return nil, apperror.ErrIdempotencyConflict()
	}
	result.Replayed = true
	return result, nil
}

// fee computes the flat basis-point fee for the request kind.
func (s *EngineServiceImpl) fee(req ports.SubmitRequest) int64 {
	switch req.Kind {
	case domain.KindRecharge:
		return req.Amount * s.fees.RechargeBps / 10000
	case domain.KindDebtPayment:
		return req.Amount * s.fees.DebtPaymentBps / 10000
	}
	return 0
}

// businessFailure maps an application error to a transaction failure
// reason. Errors outside the map are system faults.
func businessFailure(err error) (domain.FailureReason, string, bool) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return "", "", false
	}
	switch appErr.Code {
	case apperror.CodeInsufficientFunds:
		return domain.FailureInsufficientFunds, appErr.Message, true
	case apperror.CodeTargetUnavailable:
		return domain.FailureTargetUnavailable, appErr.Message, true
	case apperror.CodeOverpaymentNotAllowed:
		return domain.FailureOverpaymentNotAllowed, appErr.Message, true
	}
	return "", "", false
}
