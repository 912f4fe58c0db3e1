package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentType represents the kind of payment flow.
type PaymentType string

const (
	PaymentTypeRegular      PaymentType = "REGULAR"
	PaymentTypeEscrow       PaymentType = "ESCROW"
	PaymentTypeSubscription PaymentType = "SUBSCRIPTION"
)

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusEscrowed  PaymentStatus = "ESCROWED"
	PaymentStatusDisputed  PaymentStatus = "DISPUTED"
)

// MaxSplitBps is the total basis points available across all splits.
const MaxSplitBps = 10000

// MaxDescriptionLen bounds the free-text payment description.
const MaxDescriptionLen = 500

// Split directs a basis-point share of a payment to a recipient.
type Split struct {
	Recipient string `json:"recipient"`
	Bps       int32  `json:"bps"`
}

// PaymentRecord is the authoritative ledger entry for a payment.
// Rows are never deleted; terminal states are immutable once reached.
type PaymentRecord struct {
	ID          uuid.UUID     `json:"id"`
	MerchantID  uuid.UUID     `json:"merchant_id"`
	Merchant    string        `json:"merchant"` // receiving wallet address
	Customer    string        `json:"customer,omitempty"`
	Amount      int64         `json:"amount"` // settlement token units, 6 decimals
	SessionID   string        `json:"session_id"`
	Description string        `json:"description,omitempty"`
	PaymentType PaymentType   `json:"payment_type"`
	Status      PaymentStatus `json:"status"`
	Splits      []Split       `json:"splits,omitempty"`
	ReferralCode string       `json:"referral_code,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
}

// IsTerminal returns true if the payment is in a final state.
func (p *PaymentRecord) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusPaid, PaymentStatusExpired, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsExpired reports whether the payment's funding window has elapsed.
func (p *PaymentRecord) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// CanCancel returns true if a merchant-initiated cancel is allowed.
func (p *PaymentRecord) CanCancel() bool {
	return p.Status == PaymentStatusCreated
}

// CanMarkPaid reports whether a confirmed transfer observed at now may settle
// the payment. A transfer after the expiry deadline never settles, even if the
// record has not yet been swept to EXPIRED.
func (p *PaymentRecord) CanMarkPaid(now time.Time) bool {
	return p.Status == PaymentStatusCreated && !p.IsExpired(now)
}

// CanRefund reports whether a merchant-initiated refund is allowed at now,
// given the configured refund window.
func (p *PaymentRecord) CanRefund(now time.Time, window time.Duration) bool {
	if p.Status != PaymentStatusPaid || p.PaidAt == nil {
		return false
	}
	return !now.After(p.PaidAt.Add(window))
}

// ValidateSplits checks the split table invariants: bps in [0,10000],
// non-empty recipients, and a total of at most 10000 bps.
func (p *PaymentRecord) ValidateSplits() error {
	var total int64
	for _, s := range p.Splits {
		if s.Recipient == "" {
			return errEmptySplitRecipient
		}
		if s.Bps < 0 || s.Bps > MaxSplitBps {
			return errSplitBpsOutOfRange
		}
		total += int64(s.Bps)
	}
	if total > MaxSplitBps {
		return errSplitTotalExceeded
	}
	return nil
}

// CreditEntry is the credit owed to one recipient after settlement.
type CreditEntry struct {
	ID        uuid.UUID `json:"id"`
	PaymentID uuid.UUID `json:"payment_id"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// SettleSplits computes the per-recipient credits for the payment amount.
// With no splits the full amount credits the merchant. Rounding remainder
// from integer bps division always credits the primary merchant, so the
// entries sum to the payment amount exactly.
func (p *PaymentRecord) SettleSplits(now time.Time) []CreditEntry {
	if len(p.Splits) == 0 {
		return []CreditEntry{{
			ID:        uuid.New(),
			PaymentID: p.ID,
			Recipient: p.Merchant,
			Amount:    p.Amount,
			CreatedAt: now,
		}}
	}

	entries := make([]CreditEntry, 0, len(p.Splits)+1)
	distributed := int64(0)
	for _, s := range p.Splits {
		share := p.Amount / MaxSplitBps * int64(s.Bps)
		// Recompute without intermediate truncation when the amount is small
		// enough to multiply first.
		if p.Amount <= (1<<63-1)/MaxSplitBps {
			share = p.Amount * int64(s.Bps) / MaxSplitBps
		}
		distributed += share
		entries = append(entries, CreditEntry{
			ID:        uuid.New(),
			PaymentID: p.ID,
			Recipient: s.Recipient,
			Amount:    share,
			CreatedAt: now,
		})
	}

	if remainder := p.Amount - distributed; remainder > 0 {
		entries = append(entries, CreditEntry{
			ID:        uuid.New(),
			PaymentID: p.ID,
			Recipient: p.Merchant,
			Amount:    remainder,
			CreatedAt: now,
		})
	}
	return entries
}
