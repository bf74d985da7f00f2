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

// MeterHandler handles meter registry endpoints.
type MeterHandler struct {
	meterSvc ports.MeterService
}

// NewMeterHandler creates a new MeterHandler.
func NewMeterHandler(meterSvc ports.MeterService) *MeterHandler {
	return &MeterHandler{meterSvc: meterSvc}
}

// Register handles POST /api/v1/meters.
func (h *MeterHandler) Register(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.MeterRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	meter, err := h.meterSvc.Register(c.Request.Context(), accountID.(uuid.UUID), req.MeterNumber, req.Label)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toMeterResponse(meter))
}

// List handles GET /api/v1/meters.
func (h *MeterHandler) List(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	meters, err := h.meterSvc.List(c.Request.Context(), accountID.(uuid.UUID))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.MeterResponse, 0, len(meters))
	for i := range meters {
		items = append(items, toMeterResponse(&meters[i]))
	}
	response.OK(c, dto.MeterListResponse{Items: items})
}

// Deactivate handles DELETE /api/v1/meters/:id.
func (h *MeterHandler) Deactivate(c *gin.Context) {
	accountID, ok := c.Get(middleware.CtxAccountID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	meterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a valid UUID"))
		return
	}

	if err := h.meterSvc.Deactivate(c.Request.Context(), accountID.(uuid.UUID), meterID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"deactivated": true})
}

func toMeterResponse(m *domain.Meter) dto.MeterResponse {
	return dto.MeterResponse{
		ID:          m.ID.String(),
		MeterNumber: m.MeterNumber,
		Label:       m.Label,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
