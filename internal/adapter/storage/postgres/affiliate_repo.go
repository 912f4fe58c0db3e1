package postgres

import (
	"context"
	"errors"
	"fmt"

	"pylinks/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// AffiliateRepo implements ports.AffiliateRepository.
type AffiliateRepo struct {
	pool Pool
}

// NewAffiliateRepo creates a new AffiliateRepo.
func NewAffiliateRepo(pool Pool) *AffiliateRepo {
	return &AffiliateRepo{pool: pool}
}

const affiliateColumns = `id, name, wallet, referral_code, total_referrals, total_volume, tier, created_at, updated_at`

// Create inserts a new affiliate.
func (r *AffiliateRepo) Create(ctx context.Context, a *domain.Affiliate) error {
	query := `INSERT INTO affiliates (` + affiliateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Name, a.Wallet, a.ReferralCode,
		a.TotalReferrals, a.TotalVolume, a.Tier,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert affiliate: %w", err)
	}
	return nil
}

// GetByWallet fetches an affiliate by wallet address.
func (r *AffiliateRepo) GetByWallet(ctx context.Context, wallet string) (*domain.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE wallet = $1`
	return scanAffiliate(r.pool.QueryRow(ctx, query, wallet))
}

// GetByCode fetches an affiliate by referral code.
func (r *AffiliateRepo) GetByCode(ctx context.Context, code string) (*domain.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE referral_code = $1`
	return scanAffiliate(r.pool.QueryRow(ctx, query, code))
}

// GetByCodeForUpdate fetches an affiliate by referral code with a row lock,
// so concurrent referral accruals serialize.
func (r *AffiliateRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Affiliate, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE referral_code = $1 FOR UPDATE`
	return scanAffiliate(tx.QueryRow(ctx, query, code))
}

// Update persists referral counters and tier within a database transaction.
func (r *AffiliateRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.Affiliate) error {
	query := `UPDATE affiliates
		SET total_referrals = $1, total_volume = $2, tier = $3, updated_at = $4
		WHERE id = $5`

	tag, err := tx.Exec(ctx, query, a.TotalReferrals, a.TotalVolume, a.Tier, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update affiliate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("affiliate not found: %s", a.ID)
	}
	return nil
}

func scanAffiliate(row pgx.Row) (*domain.Affiliate, error) {
	a := &domain.Affiliate{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Wallet, &a.ReferralCode,
		&a.TotalReferrals, &a.TotalVolume, &a.Tier,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan affiliate: %w", err)
	}
	return a, nil
}
