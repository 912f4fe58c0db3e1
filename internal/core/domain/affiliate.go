package domain

import (
	"time"

	"github.com/google/uuid"
)

// AffiliateTier is derived from lifetime referred volume.
type AffiliateTier string

const (
	TierBronze  AffiliateTier = "BRONZE"
	TierSilver  AffiliateTier = "SILVER"
	TierGold    AffiliateTier = "GOLD"
	TierDiamond AffiliateTier = "DIAMOND"
)

// Volume thresholds in settlement token units (6 decimals).
const (
	tierSilverVolume  = 10_000_000_000     // $10k
	tierGoldVolume    = 100_000_000_000    // $100k
	tierDiamondVolume = 1_000_000_000_000  // $1M
)

// ReferralCodeLen is the fixed length of affiliate referral codes.
const ReferralCodeLen = 8

// Affiliate represents a referral partner. Tier is a pure function of
// TotalVolume and is recomputed on every volume update, never set directly.
type Affiliate struct {
	ID             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	Wallet         string        `json:"wallet"`
	ReferralCode   string        `json:"referral_code"`
	TotalReferrals int64         `json:"total_referrals"`
	TotalVolume    int64         `json:"total_volume"`
	Tier           AffiliateTier `json:"tier"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TierForVolume maps lifetime volume to a tier.
func TierForVolume(volume int64) AffiliateTier {
	switch {
	case volume >= tierDiamondVolume:
		return TierDiamond
	case volume >= tierGoldVolume:
		return TierGold
	case volume >= tierSilverVolume:
		return TierSilver
	default:
		return TierBronze
	}
}

// RecordReferral accrues a settled payment against the affiliate and
// recomputes the tier so it can never be stored inconsistently.
func (a *Affiliate) RecordReferral(amount int64, now time.Time) {
	a.TotalReferrals++
	a.TotalVolume += amount
	a.Tier = TierForVolume(a.TotalVolume)
	a.UpdatedAt = now
}
