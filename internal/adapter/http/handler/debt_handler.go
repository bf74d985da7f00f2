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

// DebtHandler handles debt registry endpoints.
type DebtHandler struct {
	debtSvc ports.DebtService
}

// NewDebtHandler creates a new DebtHandler.
func NewDebtHandler(debtSvc ports.DebtService) *DebtHandler {
	return &DebtHandler{debtSvc: debtSvc}
}

// Record handles POST /api/v1/debts.
func (h *DebtHandler) Record(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DebtRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	var meterID *uuid.UUID
	if req.MeterID != nil {
		id, err := uuid.Parse(*req.MeterID)
		if err != nil {
			response.Error(c, apperror.Validation("meter_id must be a valid UUID"))
			return
		}
		meterID = &id
	}

	debt, err := h.debtSvc.Record(c.Request.Context(), ports.RecordDebtRequest{
		AccountID: accountID.(uuid.UUID),
		MeterID:   meterID,
		Reference: req.Reference,
		Principal: req.Principal,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toDebtResponse(debt))
}

// List handles GET /api/v1/debts. ?open=true restricts to unpaid debts.
func (h *DebtHandler) List(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	openOnly := c.Query("open") == "true"
	debts, err := h.debtSvc.List(c.Request.Context(), accountID.(uuid.UUID), openOnly)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.DebtResponse, 0, len(debts))
	for i := range debts {
		items = append(items, toDebtResponse(&debts[i]))
	}
	response.OK(c, dto.DebtListResponse{Items: items})
}

// Get handles GET /api/v1/debts/:id.
func (h *DebtHandler) Get(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	debtID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid UUID"))
		return
	}

	debt, err := h.debtSvc.Get(c.Request.Context(), accountID.(uuid.UUID), debtID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toDebtResponse(debt))
}

func toDebtResponse(d *domain.Debt) dto.DebtResponse {
	resp := dto.DebtResponse{
		ID:        d.ID.String(),
		Reference: d.Reference,
		Principal: d.Principal,
		Remaining: d.Remaining,
		CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if d.MeterID != nil {
		s := d.MeterID.String()
		resp.MeterID = &s
	}
	if d.ClosedAt != nil {
		s := d.ClosedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ClosedAt = &s
	}
	return resp
}
