package handler

import (
	"pylinks/internal/adapter/http/dto"
	"pylinks/internal/adapter/http/middleware"
	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"
	"pylinks/pkg/fixedpoint"
	"pylinks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EscrowHandler handles escrow payment endpoints.
type EscrowHandler struct {
	escrowSvc ports.EscrowService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrowSvc ports.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrowSvc: escrowSvc}
}

// CreateEscrow handles POST /api/v1/escrows.
func (h *EscrowHandler) CreateEscrow(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	record, err := h.escrowSvc.CreateEscrowPayment(c.Request.Context(), ports.CreateEscrowRequest{
		MerchantID:  merchantID.(uuid.UUID),
		Customer:    req.Customer,
		USDAmount:   req.USDAmount,
		SessionID:   req.SessionID,
		Description: req.Description,
		AutoRelease: req.AutoRelease,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// The claim token exists in plaintext only on this one response.
	resp := toEscrowResponse(record)
	resp.ClaimToken = record.ClaimToken
	response.Created(c, resp)
}

// GetEscrow handles GET /api/v1/escrows/:id.
func (h *EscrowHandler) GetEscrow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid escrow id"))
		return
	}

	record, err := h.escrowSvc.GetEscrow(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toEscrowResponse(record))
}

// Release handles POST /api/v1/escrows/:id/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid escrow id"))
		return
	}

	var req dto.ReleaseEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	record, err := h.escrowSvc.Release(c.Request.Context(), id, req.ClaimToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toEscrowResponse(record))
}

// Dispute handles POST /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid escrow id"))
		return
	}

	// The merchant side disputes on its authenticated identity alone and
	// may send an empty body; the customer side sends the claim token.
	var req dto.DisputeEscrowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	record, err := h.escrowSvc.Dispute(c.Request.Context(), id, merchantID.(uuid.UUID), req.ClaimToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toEscrowResponse(record))
}

// Resolve handles POST /api/v1/escrows/:id/resolve. The route is gated by
// the arbiter middleware, not merchant credentials.
func (h *EscrowHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid escrow id"))
		return
	}

	var req dto.ResolveEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	record, err := h.escrowSvc.Resolve(c.Request.Context(), id, domain.DisputeOutcome(req.Outcome))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toEscrowResponse(record))
}

// toEscrowResponse converts a domain.EscrowRecord to its DTO.
func toEscrowResponse(e *domain.EscrowRecord) dto.EscrowResponse {
	resp := dto.EscrowResponse{
		PaymentResponse: toPaymentResponse(&e.PaymentRecord),
		USDAmount:       fixedpoint.FromFixedPoint(e.USDAmount, fixedpoint.USDPrecision),
		PriceUSD:        fixedpoint.FromFixedPoint(e.PriceUSD, fixedpoint.USDPrecision),
		HoldUntil:       e.HoldUntil.Format("2006-01-02T15:04:05Z07:00"),
		AutoRelease:     e.AutoRelease,
		Disputed:        e.Disputed,
		ResolvedBy:      e.ResolvedBy,
	}
	if e.ReleasedAt != nil {
		s := e.ReleasedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ReleasedAt = &s
	}
	return resp
}
