package ports

import (
	"context"
	"time"

	"pylinks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MerchantRepository defines persistence operations for merchants.
type MerchantRepository interface {
	Create(ctx context.Context, merchant *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*domain.Merchant, error)
	GetByUsername(ctx context.Context, username string) (*domain.Merchant, error)
	Update(ctx context.Context, merchant *domain.Merchant) error
}

// PaymentRepository defines persistence operations for payment records.
// Methods accepting pgx.Tx run inside transaction blocks; GetByIDForUpdate
// takes a row lock so concurrent transitions on one record serialize.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.PaymentRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentRecord, error)
	GetBySession(ctx context.Context, merchantID uuid.UUID, sessionID string) (*domain.PaymentRecord, error)
	// GetByReference finds the non-terminal payment a confirmed transfer refers to.
	GetByReference(ctx context.Context, reference string) (*domain.PaymentRecord, error)
	// UpdateStatus transitions id from 'from' to 'to'. Returns false when the
	// row was not in 'from' anymore: the caller lost a transition race.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.PaymentStatus, paidAt *time.Time) (bool, error)
	// SetCustomer records the payer address observed on-chain.
	SetCustomer(ctx context.Context, tx pgx.Tx, id uuid.UUID, customer string) error
	// ExpireOverdue flips CREATED records whose deadline passed to EXPIRED
	// and returns the affected records for event emission.
	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PaymentRecord, error)
	List(ctx context.Context, params PaymentListParams) ([]domain.PaymentRecord, int64, error)
	GetStats(ctx context.Context, merchantID uuid.UUID, periodStart *int64) (*PaymentStats, error)
}

// PaymentListParams holds filter + pagination for listing payments.
type PaymentListParams struct {
	MerchantID uuid.UUID
	Status     *domain.PaymentStatus
	Type       *domain.PaymentType
	From       *int64 // Unix timestamp
	To         *int64 // Unix timestamp
	Page       int
	PageSize   int
}

// PaymentStats holds aggregated statistics for the merchant dashboard.
type PaymentStats struct {
	TotalPayments int64
	Paid          int64
	Expired       int64
	Refunded      int64
	Cancelled     int64
	InEscrow      int64
	Disputed      int64
	TotalVolume   int64 // Sum of PAID amounts
	TotalRefunded int64 // Sum of REFUNDED amounts
}

// CreditRepository persists per-recipient settlement credits.
type CreditRepository interface {
	CreateBatch(ctx context.Context, tx pgx.Tx, entries []domain.CreditEntry) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.CreditEntry, error)
}

// EscrowRepository persists the escrow extension of a payment record.
type EscrowRepository interface {
	CreateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error
	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.EscrowRecord, error)
	UpdateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error
	// ListAutoReleasable returns ESCROWED records past their hold window with
	// auto-release on and no dispute raised.
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]domain.EscrowRecord, error)
}

// TransferRepository tracks which settlement transfers were already applied.
type TransferRepository interface {
	// MarkProcessed records a transfer as applied. Returns false if the
	// transfer was already recorded (idempotent replay).
	MarkProcessed(ctx context.Context, tx pgx.Tx, t *domain.ProcessedTransfer) (bool, error)
	IsProcessed(ctx context.Context, txHash string, logIndex uint32) (bool, error)
}

// WebhookRepository persists webhook events and their delivery bookkeeping.
type WebhookRepository interface {
	CreateEvent(ctx context.Context, e *domain.WebhookEvent) error
	Update(ctx context.Context, e *domain.WebhookEvent) error
	// GetEvent returns one event by ID, or nil when absent.
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	// ListDue returns PENDING/FAILED events whose next attempt is due.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.WebhookEvent, error)
}

// AffiliateRepository defines persistence operations for affiliates.
type AffiliateRepository interface {
	Create(ctx context.Context, a *domain.Affiliate) error
	GetByWallet(ctx context.Context, wallet string) (*domain.Affiliate, error)
	GetByCode(ctx context.Context, code string) (*domain.Affiliate, error)
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Affiliate, error)
	Update(ctx context.Context, tx pgx.Tx, a *domain.Affiliate) error
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
