package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType names the status transition a webhook describes.
type WebhookEventType string

const (
	EventPaymentPaid      WebhookEventType = "payment.paid"
	EventPaymentExpired   WebhookEventType = "payment.expired"
	EventPaymentRefunded  WebhookEventType = "payment.refunded"
	EventPaymentCancelled WebhookEventType = "payment.cancelled"
	EventEscrowFunded     WebhookEventType = "escrow.funded"
	EventEscrowReleased   WebhookEventType = "escrow.released"
	EventEscrowDisputed   WebhookEventType = "escrow.disputed"
	EventEscrowResolved   WebhookEventType = "escrow.resolved"
)

// WebhookStatus represents the delivery state of a webhook event.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "PENDING"
	WebhookStatusDelivered WebhookStatus = "DELIVERED"
	WebhookStatusFailed    WebhookStatus = "FAILED" // transient; will be retried
	// WebhookStatusPermanentlyFailed marks an event that exhausted its retry
	// budget. It stays queryable for manual inspection, never silently dropped.
	WebhookStatusPermanentlyFailed WebhookStatus = "PERMANENTLY_FAILED"
)

// WebhookEvent is a queued notification about a payment status transition,
// plus its delivery bookkeeping.
type WebhookEvent struct {
	ID          uuid.UUID        `json:"id"`
	PaymentID   uuid.UUID        `json:"payment_id"`
	MerchantID  uuid.UUID        `json:"merchant_id"`
	EventType   WebhookEventType `json:"event_type"`
	WebhookURL  string           `json:"webhook_url"`
	Payload     string           `json:"payload"` // JSON, signed as raw bytes
	Signature   string           `json:"signature"`
	Attempt     int              `json:"attempt"`
	Status      WebhookStatus    `json:"status"`
	HTTPStatus  *int             `json:"http_status,omitempty"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	DeliveredAt *time.Time       `json:"delivered_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsTerminal returns true once no further delivery attempts will happen.
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == WebhookStatusDelivered || e.Status == WebhookStatusPermanentlyFailed
}

// TransitionEvent is what the ledger emits when a payment changes state.
// The ledger stays pure of delivery concerns; the dispatcher turns these
// into signed WebhookEvents.
type TransitionEvent struct {
	PaymentID  uuid.UUID
	MerchantID uuid.UUID
	SessionID  string
	EventType  WebhookEventType
	Amount     int64
	Status     PaymentStatus
	OccurredAt time.Time
}
