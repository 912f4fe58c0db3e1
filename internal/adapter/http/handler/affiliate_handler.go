package handler

import (
	"pylinks/internal/adapter/http/dto"
	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"
	"pylinks/pkg/fixedpoint"
	"pylinks/pkg/response"

	"github.com/gin-gonic/gin"
)

// AffiliateHandler handles referral partner endpoints.
type AffiliateHandler struct {
	affiliateSvc ports.AffiliateService
}

// NewAffiliateHandler creates a new AffiliateHandler.
func NewAffiliateHandler(affiliateSvc ports.AffiliateService) *AffiliateHandler {
	return &AffiliateHandler{affiliateSvc: affiliateSvc}
}

// Register handles POST /api/v1/affiliates.
func (h *AffiliateHandler) Register(c *gin.Context) {
	var req dto.RegisterAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	affiliate, err := h.affiliateSvc.Register(c.Request.Context(), req.Name, req.Wallet)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toAffiliateResponse(affiliate))
}

// GetByWallet handles GET /api/v1/affiliates/:wallet.
func (h *AffiliateHandler) GetByWallet(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		response.Error(c, apperror.Validation("wallet is required"))
		return
	}

	affiliate, err := h.affiliateSvc.GetByWallet(c.Request.Context(), wallet)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toAffiliateResponse(affiliate))
}

func toAffiliateResponse(a *domain.Affiliate) dto.AffiliateResponse {
	return dto.AffiliateResponse{
		ID:             a.ID.String(),
		Name:           a.Name,
		Wallet:         a.Wallet,
		ReferralCode:   a.ReferralCode,
		TotalReferrals: a.TotalReferrals,
		TotalVolume:    fixedpoint.FromFixedPoint(a.TotalVolume, fixedpoint.TokenPrecision),
		Tier:           string(a.Tier),
	}
}
