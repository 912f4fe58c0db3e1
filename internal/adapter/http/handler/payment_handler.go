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

// PaymentHandler handles payment lifecycle endpoints.
type PaymentHandler struct {
	ledgerSvc  ports.LedgerService
	webhookSvc ports.WebhookService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(ledgerSvc ports.LedgerService, webhookSvc ports.WebhookService) *PaymentHandler {
	return &PaymentHandler{ledgerSvc: ledgerSvc, webhookSvc: webhookSvc}
}

// CreatePayment handles POST /api/v1/payments.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	paymentType := domain.PaymentTypeRegular
	if req.PaymentType != "" {
		paymentType = domain.PaymentType(req.PaymentType)
	}

	splits := make([]domain.Split, 0, len(req.Splits))
	for _, s := range req.Splits {
		splits = append(splits, domain.Split{Recipient: s.Recipient, Bps: s.Bps})
	}

	record, err := h.ledgerSvc.CreatePayment(c.Request.Context(), ports.CreatePaymentRequest{
		MerchantID:   merchantID.(uuid.UUID),
		Amount:       req.Amount,
		SessionID:    req.SessionID,
		Description:  req.Description,
		PaymentType:  paymentType,
		Splits:       splits,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toPaymentResponse(record))
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	record, err := h.ledgerSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(record))
}

// CancelPayment handles POST /api/v1/payments/:id/cancel.
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	record, err := h.ledgerSvc.CancelPayment(c.Request.Context(), merchantID.(uuid.UUID), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(record))
}

// RefundPayment handles POST /api/v1/payments/:id/refund.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	record, err := h.ledgerSvc.RefundPayment(c.Request.Context(), merchantID.(uuid.UUID), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(record))
}

// ListCredits handles GET /api/v1/payments/:id/credits.
func (h *PaymentHandler) ListCredits(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	credits, err := h.ledgerSvc.ListCredits(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.CreditResponse, 0, len(credits))
	for i := range credits {
		items = append(items, dto.CreditResponse{
			Recipient: credits[i].Recipient,
			Amount:    fixedpoint.FromFixedPoint(credits[i].Amount, fixedpoint.TokenPrecision),
			CreatedAt: credits[i].CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	response.OK(c, items)
}

// ListDeliveries handles GET /api/v1/payments/:id/deliveries.
func (h *PaymentHandler) ListDeliveries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	events, err := h.webhookSvc.ListDeliveries(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.WebhookDeliveryResponse, 0, len(events))
	for i := range events {
		items = append(items, toDeliveryResponse(&events[i]))
	}
	response.OK(c, items)
}

// RedeliverWebhook handles POST /api/v1/payments/:id/deliveries/:event_id/redeliver.
func (h *PaymentHandler) RedeliverWebhook(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	event, err := h.webhookSvc.Redeliver(c.Request.Context(), paymentID, eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toDeliveryResponse(event))
}

// toPaymentResponse converts a domain.PaymentRecord to its DTO.
func toPaymentResponse(p *domain.PaymentRecord) dto.PaymentResponse {
	splits := make([]dto.SplitEntry, 0, len(p.Splits))
	for _, s := range p.Splits {
		splits = append(splits, dto.SplitEntry{Recipient: s.Recipient, Bps: s.Bps})
	}
	if len(splits) == 0 {
		splits = nil
	}

	resp := dto.PaymentResponse{
		ID:           p.ID.String(),
		Merchant:     p.Merchant,
		Customer:     p.Customer,
		Amount:       fixedpoint.FromFixedPoint(p.Amount, fixedpoint.TokenPrecision),
		SessionID:    p.SessionID,
		Description:  p.Description,
		PaymentType:  string(p.PaymentType),
		Status:       string(p.Status),
		Splits:       splits,
		ReferralCode: p.ReferralCode,
		CreatedAt:    p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:    p.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if p.PaidAt != nil {
		s := p.PaidAt.Format("2006-01-02T15:04:05Z07:00")
		resp.PaidAt = &s
	}
	return resp
}

// toDeliveryResponse converts a domain.WebhookEvent to its DTO.
func toDeliveryResponse(e *domain.WebhookEvent) dto.WebhookDeliveryResponse {
	resp := dto.WebhookDeliveryResponse{
		ID:         e.ID.String(),
		EventType:  string(e.EventType),
		Status:     string(e.Status),
		Attempt:    e.Attempt,
		HTTPStatus: e.HTTPStatus,
		LastError:  e.LastError,
		CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.NextRetryAt != nil {
		s := e.NextRetryAt.Format("2006-01-02T15:04:05Z07:00")
		resp.NextRetryAt = &s
	}
	if e.DeliveredAt != nil {
		s := e.DeliveredAt.Format("2006-01-02T15:04:05Z07:00")
		resp.DeliveredAt = &s
	}
	return resp
}
