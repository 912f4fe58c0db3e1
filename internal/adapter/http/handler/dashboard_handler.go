package handler

import (
	"math"
	"strconv"

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

// DashboardHandler handles dashboard & payment list endpoints.
type DashboardHandler struct {
	reportingSvc ports.ReportingService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(reportingSvc ports.ReportingService) *DashboardHandler {
	return &DashboardHandler{reportingSvc: reportingSvc}
}

// GetStats handles GET /api/v1/dashboard/stats.
func (h *DashboardHandler) GetStats(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	period := c.DefaultQuery("period", "all")
	stats, err := h.reportingSvc.GetDashboardStats(c.Request.Context(), merchantID.(uuid.UUID), period)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.DashboardStatsResponse{
		TotalPayments: stats.TotalPayments,
		Paid:          stats.Paid,
		Expired:       stats.Expired,
		Refunded:      stats.Refunded,
		Cancelled:     stats.Cancelled,
		InEscrow:      stats.InEscrow,
		Disputed:      stats.Disputed,
		TotalVolume:   fixedpoint.FromFixedPoint(stats.TotalVolume, fixedpoint.TokenPrecision),
		TotalRefunded: fixedpoint.FromFixedPoint(stats.TotalRefunded, fixedpoint.TokenPrecision),
	})
}

// ListPayments handles GET /api/v1/dashboard/payments.
func (h *DashboardHandler) ListPayments(c *gin.Context) {
	merchantID, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.PaymentListParams{
		MerchantID: merchantID.(uuid.UUID),
		Page:       page,
		PageSize:   pageSize,
	}

	if s := c.Query("status"); s != "" {
		status := domain.PaymentStatus(s)
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		paymentType := domain.PaymentType(t)
		params.Type = &paymentType
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	records, total, err := h.reportingSvc.ListPayments(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentResponse, 0, len(records))
	for i := range records {
		items = append(items, toPaymentResponse(&records[i]))
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	response.OK(c, dto.PaymentListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}
