package ports

import (
	"context"
	"time"

	"pylinks/internal/core/domain"

	"github.com/google/uuid"
)

// --- Core payment lifecycle ---

// LedgerService owns the authoritative payment state machine.
type LedgerService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.PaymentRecord, error)
	// GetPayment enforces expiry lazily: an overdue CREATED record is flipped
	// to EXPIRED before it is returned.
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	CancelPayment(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRecord, error)
	RefundPayment(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRecord, error)
	// ApplyTransfer settles the payment a confirmed transfer references.
	// Idempotent per transfer; at-most-once credit per session.
	ApplyTransfer(ctx context.Context, transfer domain.ObservedTransfer) error
	// ExpireOverdue sweeps overdue CREATED records to EXPIRED.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	ListCredits(ctx context.Context, paymentID uuid.UUID) ([]domain.CreditEntry, error)
}

// CreatePaymentRequest holds validated input for payment creation.
type CreatePaymentRequest struct {
	MerchantID   uuid.UUID
	Amount       string // decimal string at token precision
	SessionID    string
	Description  string
	PaymentType  domain.PaymentType
	Splits       []domain.Split
	ReferralCode string
}

// EscrowService owns the escrow specialization of the ledger.
type EscrowService interface {
	CreateEscrowPayment(ctx context.Context, req CreateEscrowRequest) (*domain.EscrowRecord, error)
	GetEscrow(ctx context.Context, paymentID uuid.UUID) (*domain.EscrowRecord, error)
	// Release settles escrowed funds to the merchant. claimToken is the
	// bearer credential minted at creation; only its holder may release.
	Release(ctx context.Context, paymentID uuid.UUID, claimToken string) (*domain.EscrowRecord, error)
	// Dispute freezes an escrow. The escrow's own merchant (by authenticated
	// identity) or the claim-token holder may raise it.
	Dispute(ctx context.Context, paymentID uuid.UUID, merchantID uuid.UUID, claimToken string) (*domain.EscrowRecord, error)
	// Resolve applies an arbitration outcome. Callers must already be
	// authenticated as the arbiter; the transport layer owns that check.
	Resolve(ctx context.Context, paymentID uuid.UUID, outcome domain.DisputeOutcome) (*domain.EscrowRecord, error)
	// AutoReleaseDue releases escrows whose hold window elapsed undisputed.
	AutoReleaseDue(ctx context.Context, now time.Time) (int, error)
}

// CreateEscrowRequest holds validated input for escrow creation.
type CreateEscrowRequest struct {
	MerchantID  uuid.UUID
	Customer    string
	USDAmount   string // decimal string at 8-decimal USD precision
	SessionID   string
	Description string
	AutoRelease bool
}

// TransitionSink receives ledger transition events. The ledger stays pure of
// delivery concerns; the webhook dispatcher implements this.
type TransitionSink interface {
	Emit(ctx context.Context, ev domain.TransitionEvent)
}

// WebhookService is the outbound notification pipeline.
type WebhookService interface {
	TransitionSink
	// DispatchDue delivers all due events once and reschedules failures.
	// Returns the number of events attempted.
	DispatchDue(ctx context.Context, now time.Time) (int, error)
	ListDeliveries(ctx context.Context, paymentID uuid.UUID) ([]domain.WebhookEvent, error)
	// Redeliver retries one event immediately, outside the backoff schedule.
	// Events that spent their attempt budget are gone, not retryable.
	Redeliver(ctx context.Context, paymentID, eventID uuid.UUID) (*domain.WebhookEvent, error)
}

// --- Settlement layer ---

// PriceOracle reads the settlement token's USD price (8 decimals).
type PriceOracle interface {
	TokenPriceUSD(ctx context.Context) (int64, error)
}

// ChainReader reads settlement progress and transfer events.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	// SettlementTransfers returns decoded transfers in [fromBlock, toBlock].
	SettlementTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ObservedTransfer, error)
}

// --- Security primitives ---

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(merchantID uuid.UUID, accessKey string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
	AccessKey  string
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, merchantID string, nonce string, ttl time.Duration) (bool, error)
}

// SessionCache is the fast-path replay cache for created payments, keyed by
// merchant and session.
type SessionCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// --- Platform services ---

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// RegisterRequest holds input for merchant registration.
type RegisterRequest struct {
	Username      string
	Password      string
	MerchantName  string
	WalletAddress string
	WebhookURL    *string
}

// RegisterResponse holds the registration result shown once.
type RegisterResponse struct {
	MerchantID uuid.UUID
	AccessKey  string
	SecretKey  string // Plaintext, shown only at registration
}

// MerchantManagementService exposes merchant self-service operations.
type MerchantManagementService interface {
	GetProfile(ctx context.Context, merchantID uuid.UUID) (*MerchantProfile, error)
	UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error
	RotateKeys(ctx context.Context, merchantID uuid.UUID) (*RotateKeysResponse, error)
}

// MerchantProfile is the dashboard view of a merchant account.
type MerchantProfile struct {
	ID            uuid.UUID
	Username      string
	MerchantName  string
	WalletAddress string
	WebhookURL    *string
	Status        domain.MerchantStatus
	CreatedAt     string
}

// RotateKeysResponse holds freshly rotated keys, shown once.
type RotateKeysResponse struct {
	AccessKey string
	SecretKey string
}

// AffiliateService manages referral partners.
type AffiliateService interface {
	Register(ctx context.Context, name, wallet string) (*domain.Affiliate, error)
	GetByWallet(ctx context.Context, wallet string) (*domain.Affiliate, error)
}

// ReportingService defines dashboard/reporting business logic.
type ReportingService interface {
	GetDashboardStats(ctx context.Context, merchantID uuid.UUID, period string) (*PaymentStats, error)
	ListPayments(ctx context.Context, params PaymentListParams) ([]domain.PaymentRecord, int64, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
