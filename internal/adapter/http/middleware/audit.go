package middleware

import (
	"encoding/json"
	"strings"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// It maps HTTP methods and paths to audit actions.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		action, resourceType := mapPathToAction(c.Request.URL.Path, c.Request.Method)
		if action == "" {
			return
		}

		var merchantID *uuid.UUID
		if mid, exists := c.Get(CtxMerchantID); exists {
			if id, ok := mid.(uuid.UUID); ok {
				merchantID = &id
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			MerchantID:   merchantID,
			Action:       action,
			ResourceType: resourceType,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func mapPathToAction(path, method string) (domain.AuditAction, string) {
	if method == "POST" {
		switch {
		case path == "/api/v1/auth/register":
			return domain.AuditActionRegister, "merchant"
		case path == "/api/v1/auth/login":
			return domain.AuditActionLogin, "session"
		case path == "/api/v1/payments":
			return domain.AuditActionCreatePayment, "payment"
		case strings.HasPrefix(path, "/api/v1/payments/") && strings.HasSuffix(path, "/cancel"):
			return domain.AuditActionCancelPayment, "payment"
		case strings.HasPrefix(path, "/api/v1/payments/") && strings.HasSuffix(path, "/refund"):
			return domain.AuditActionRefundPayment, "payment"
		case path == "/api/v1/escrows":
			return domain.AuditActionCreateEscrow, "escrow"
		case strings.HasPrefix(path, "/api/v1/escrows/") && strings.HasSuffix(path, "/release"):
			return domain.AuditActionReleaseEscrow, "escrow"
		case strings.HasPrefix(path, "/api/v1/escrows/") && strings.HasSuffix(path, "/dispute"):
			return domain.AuditActionDisputeEscrow, "escrow"
		case strings.HasPrefix(path, "/api/v1/escrows/") && strings.HasSuffix(path, "/resolve"):
			return domain.AuditActionResolveEscrow, "escrow"
		case path == "/api/v1/merchants/me/rotate-keys":
			return domain.AuditActionRotateKeys, "merchant"
		}
	}
	if method == "PUT" && path == "/api/v1/merchants/me/webhook" {
		return domain.AuditActionUpdateWebhook, "merchant"
	}
	return "", ""
}
