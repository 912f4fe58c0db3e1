package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreatePayment AuditAction = "CREATE_PAYMENT"
	AuditActionCancelPayment AuditAction = "CANCEL_PAYMENT"
	AuditActionRefundPayment AuditAction = "REFUND_PAYMENT"
	AuditActionCreateEscrow  AuditAction = "CREATE_ESCROW"
	AuditActionReleaseEscrow AuditAction = "RELEASE_ESCROW"
	AuditActionDisputeEscrow AuditAction = "DISPUTE_ESCROW"
	AuditActionResolveEscrow AuditAction = "RESOLVE_ESCROW"
	AuditActionRegister      AuditAction = "REGISTER"
	AuditActionLogin         AuditAction = "LOGIN"
	AuditActionRotateKeys    AuditAction = "ROTATE_KEYS"
	AuditActionUpdateWebhook AuditAction = "UPDATE_WEBHOOK"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
