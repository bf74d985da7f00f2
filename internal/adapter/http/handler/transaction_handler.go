package handler

import (
	"meterpay/internal/adapter/http/dto"
	"meterpay/internal/adapter/http/middleware"
	"meterpay/internal/core/domain"
	"meterpay/internal/core/ports"
	"meterpay/pkg/apperror"
	"meterpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles transaction submission and lookup.
type TransactionHandler struct {
	engine       ports.TransactionEngine
	reportingSvc ports.ReportingService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(engine ports.TransactionEngine, reportingSvc ports.ReportingService) *TransactionHandler {
	return &TransactionHandler{engine: engine, reportingSvc: reportingSvc}
}

// Submit handles POST /api/v1/transactions.
func (h *TransactionHandler) Submit(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var debtID *uuid.UUID
	if req.DebtID != nil {
		id, err := uuid.Parse(*req.DebtID)
		if err != nil {
			response.Error(c, apperror.Validation("debt_id must be a valid UUID"))
			return
		}
		debtID = &id
	}

	result, err := h.engine.Submit(c.Request.Context(), ports.SubmitRequest{
		AccountID:      accountID.(uuid.UUID),
		Kind:           domain.TransactionKind(req.Kind),
		MeterNumber:    req.MeterNumber,
		DebtID:         debtID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := toTransactionResponse(result.Transaction)
	resp.Token = result.Token
	resp.Remainder = result.Remainder
	for _, a := range result.Allocations {
		resp.Allocations = append(resp.Allocations, dto.AllocationResponse{
			DebtID:  a.DebtID.String(),
			Applied: a.Applied,
		})
	}

	// Idempotent replays return the original result without creating
	// anything, so they answer 200 rather than 201.
	if result.Replayed {
		response.OK(c, resp)
		return
	}
	response.Created(c, resp)
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid UUID"))
		return
	}

	txn, token, err := h.reportingSvc.GetTransaction(c.Request.Context(), accountID.(uuid.UUID), txID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := toTransactionResponse(txn)
	resp.Token = token
	response.OK(c, resp)
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(txn *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:             txn.ID.String(),
		Kind:           string(txn.Kind),
		Status:         string(txn.Status),
		Amount:         txn.Amount,
		Fee:            txn.Fee,
		MeterNumber:    txn.MeterNumber,
		IdempotencyKey: txn.IdempotencyKey,
		PaymentMethod:  txn.PaymentMethod,
		FailureReason:  string(txn.FailureReason),
		FailureDetail:  txn.FailureDetail,
		CreatedAt:      txn.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if txn.MeterID != nil {
		s := txn.MeterID.String()
		resp.MeterID = &s
	}
	if txn.DebtID != nil {
		s := txn.DebtID.String()
		resp.DebtID = &s
	}
	if txn.CompletedAt != nil {
		s := txn.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}
