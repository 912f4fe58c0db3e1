package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"time"
)

// EscrowRecord extends a PaymentRecord with a holding period, a dispute flag
// and release semantics. The oracle price is captured once at creation and
// stored on the record; release never re-reads the oracle, so settlement-time
// price drift cannot change what the customer escrowed.
type EscrowRecord struct {
	PaymentRecord

	USDAmount   int64      `json:"usd_amount"`    // 8-decimal USD
	PriceUSD    int64      `json:"price_usd"`     // token price captured at creation, 8 decimals
	HoldUntil   time.Time  `json:"hold_until"`    // CreatedAt + hold window
	AutoRelease bool       `json:"auto_release"`  // release at HoldUntil absent a dispute
	Disputed    bool       `json:"disputed"`      // once set, auto-release is off until resolution
	ResolvedBy  *string    `json:"resolved_by,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`

	// ClaimToken is the bearer credential for customer-side escrow actions.
	// It is minted once at creation, handed to the customer, and only its
	// hash is persisted. A wallet address string is public information and
	// proves nothing; holding this token does.
	ClaimToken     string `json:"-"`
	ClaimTokenHash string `json:"-"`
}

// HashClaimToken derives the persisted form of an escrow claim token.
func HashClaimToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ClaimTokenValid reports whether token is this escrow's claim token.
// Comparison is constant-time; an empty token never matches.
func (e *EscrowRecord) ClaimTokenValid(token string) bool {
	if token == "" || e.ClaimTokenHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashClaimToken(token)), []byte(e.ClaimTokenHash)) == 1
}

// DisputeOutcome is the arbitration result for a disputed escrow.
type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "RELEASE" // funds to merchant (PAID)
	DisputeOutcomeRefund  DisputeOutcome = "REFUND"  // funds back to customer (REFUNDED)
)

// CanRelease reports whether an explicit customer release is allowed.
func (e *EscrowRecord) CanRelease() bool {
	return e.Status == PaymentStatusEscrowed && !e.Disputed
}

// CanAutoRelease reports whether the sweep may release this escrow at now.
// A raised dispute suspends auto-release permanently until manual resolution.
func (e *EscrowRecord) CanAutoRelease(now time.Time) bool {
	return e.Status == PaymentStatusEscrowed &&
		e.AutoRelease &&
		!e.Disputed &&
		!now.Before(e.HoldUntil)
}

// CanDispute reports whether either party may still raise a dispute at now.
// Disputes are only accepted while funds are escrowed and before the hold
// window closes.
func (e *EscrowRecord) CanDispute(now time.Time) bool {
	return e.Status == PaymentStatusEscrowed &&
		!e.Disputed &&
		now.Before(e.HoldUntil)
}

// CanResolve reports whether a manual arbitration outcome may be applied.
func (e *EscrowRecord) CanResolve() bool {
	return e.Status == PaymentStatusDisputed
}

// ConvertUSDToToken converts an 8-decimal USD amount into 6-decimal settlement
// token units at the given 8-decimal USD-per-token price. Intermediate math is
// done in big.Int so large invoices cannot overflow int64 mid-computation.
func ConvertUSDToToken(usdAmount, priceUSD int64) (int64, error) {
	if priceUSD <= 0 {
		return 0, ErrPriceNonPositive
	}
	if usdAmount <= 0 {
		return 0, ErrUSDAmountNonPositive
	}
	// token(6dp) = usd(8dp) * 10^6 / price(8dp)
	n := new(big.Int).SetInt64(usdAmount)
	n.Mul(n, big.NewInt(1_000_000))
	n.Quo(n, big.NewInt(priceUSD))
	if !n.IsInt64() {
		return 0, errAmountOverflow
	}
	return n.Int64(), nil
}
