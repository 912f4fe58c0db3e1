package dto

// RegisterRequest is the request body for merchant registration.
type RegisterRequest struct {
	Username      string  `json:"username" binding:"required,min=3,max=50"`
	Password      string  `json:"password" binding:"required,min=8,max=128"`
	MerchantName  string  `json:"merchant_name" binding:"required,min=1,max=100"`
	WalletAddress string  `json:"wallet_address" binding:"required,max=100"`
	WebhookURL    *string `json:"webhook_url,omitempty" binding:"omitempty,safe_url"`
}

// LoginRequest is the request body for merchant login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	MerchantID string `json:"merchant_id"`
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"secret_key"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// SplitEntry directs a basis-point share of a payment to a recipient.
type SplitEntry struct {
	Recipient string `json:"recipient" binding:"required,max=100"`
	Bps       int32  `json:"bps" binding:"required,gt=0,lte=10000"`
}

// CreatePaymentRequest is the request body for payment creation.
type CreatePaymentRequest struct {
	Amount       string       `json:"amount" binding:"required,decimal_amount"`
	SessionID    string       `json:"session_id" binding:"required,max=100,safe_id"`
	Description  string       `json:"description,omitempty" binding:"max=500"`
	PaymentType  string       `json:"payment_type,omitempty" binding:"omitempty,oneof=REGULAR SUBSCRIPTION"`
	Splits       []SplitEntry `json:"splits,omitempty" binding:"omitempty,max=10,dive"`
	ReferralCode string       `json:"referral_code,omitempty" binding:"omitempty,len=8,safe_id"`
}

// CreateEscrowRequest is the request body for escrow payment creation.
type CreateEscrowRequest struct {
	USDAmount   string `json:"usd_amount" binding:"required,decimal_amount"`
	Customer    string `json:"customer" binding:"required,max=100"`
	SessionID   string `json:"session_id" binding:"required,max=100,safe_id"`
	Description string `json:"description,omitempty" binding:"max=500"`
	AutoRelease bool   `json:"auto_release"`
}

// ReleaseEscrowRequest carries the claim token authorizing a customer
// release. The token is minted once at escrow creation.
type ReleaseEscrowRequest struct {
	ClaimToken string `json:"claim_token" binding:"required,max=100,safe_id"`
}

// DisputeEscrowRequest carries the optional claim token for a customer-side
// dispute. The escrow's own merchant disputes through its authenticated
// identity and sends no token.
type DisputeEscrowRequest struct {
	ClaimToken string `json:"claim_token,omitempty" binding:"omitempty,max=100,safe_id"`
}

// ResolveEscrowRequest is the request body for arbiter dispute resolution.
// The arbiter credential travels in the X-Arbiter-Key header, not the body.
type ResolveEscrowRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=RELEASE REFUND"`
}

// RegisterAffiliateRequest is the request body for affiliate registration.
type RegisterAffiliateRequest struct {
	Name   string `json:"name" binding:"required,min=1,max=100"`
	Wallet string `json:"wallet" binding:"required,max=100"`
}

// UpdateWebhookRequest is the request body for webhook URL updates.
type UpdateWebhookRequest struct {
	WebhookURL *string `json:"webhook_url" binding:"omitempty,safe_url"`
}

// PaymentResponse is the API view of a payment record.
type PaymentResponse struct {
	ID           string       `json:"id"`
	Merchant     string       `json:"merchant"`
	Customer     string       `json:"customer,omitempty"`
	Amount       string       `json:"amount"` // decimal string, token precision
	SessionID    string       `json:"session_id"`
	Description  string       `json:"description,omitempty"`
	PaymentType  string       `json:"payment_type"`
	Status       string       `json:"status"`
	Splits       []SplitEntry `json:"splits,omitempty"`
	ReferralCode string       `json:"referral_code,omitempty"`
	CreatedAt    string       `json:"created_at"`
	ExpiresAt    string       `json:"expires_at"`
	PaidAt       *string      `json:"paid_at,omitempty"`
}

// EscrowResponse extends PaymentResponse with escrow details.
type EscrowResponse struct {
	PaymentResponse
	USDAmount   string  `json:"usd_amount"` // decimal string, 8 decimals
	PriceUSD    string  `json:"price_usd"`  // captured oracle price, 8 decimals
	HoldUntil   string  `json:"hold_until"`
	AutoRelease bool    `json:"auto_release"`
	Disputed    bool    `json:"disputed"`
	ResolvedBy  *string `json:"resolved_by,omitempty"`
	ReleasedAt  *string `json:"released_at,omitempty"`
	// ClaimToken is present only on the creation response.
	ClaimToken string `json:"claim_token,omitempty"`
}

// CreditResponse is one recipient's settlement credit.
type CreditResponse struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

// AffiliateResponse is the API view of an affiliate.
type AffiliateResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Wallet         string `json:"wallet"`
	ReferralCode   string `json:"referral_code"`
	TotalReferrals int64  `json:"total_referrals"`
	TotalVolume    string `json:"total_volume"`
	Tier           string `json:"tier"`
}

// WebhookDeliveryResponse is the delivery bookkeeping of one webhook event.
type WebhookDeliveryResponse struct {
	ID          string  `json:"id"`
	EventType   string  `json:"event_type"`
	Status      string  `json:"status"`
	Attempt     int     `json:"attempt"`
	HTTPStatus  *int    `json:"http_status,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	NextRetryAt *string `json:"next_retry_at,omitempty"`
	DeliveredAt *string `json:"delivered_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// DashboardStatsResponse is the response for dashboard statistics.
type DashboardStatsResponse struct {
	TotalPayments int64  `json:"total_payments"`
	Paid          int64  `json:"paid"`
	Expired       int64  `json:"expired"`
	Refunded      int64  `json:"refunded"`
	Cancelled     int64  `json:"cancelled"`
	InEscrow      int64  `json:"in_escrow"`
	Disputed      int64  `json:"disputed"`
	TotalVolume   string `json:"total_volume"`
	TotalRefunded string `json:"total_refunded"`
}

// PaymentListResponse wraps a paginated payment list.
type PaymentListResponse struct {
	Items      []PaymentResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}
