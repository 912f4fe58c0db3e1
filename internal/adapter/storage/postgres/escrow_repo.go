package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pylinks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EscrowRepo implements ports.EscrowRepository. Escrow details live in their
// own table keyed by payment_id; reads join back to payments so callers get
// the full record.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowJoinColumns = `p.id, p.merchant_id, p.merchant_wallet, p.customer, p.amount, p.session_id, p.description,
		p.payment_type, p.status, p.splits, p.referral_code, p.created_at, p.expires_at, p.paid_at,
		e.usd_amount, e.price_usd, e.hold_until, e.auto_release, e.disputed, e.resolved_by, e.released_at, e.claim_token_hash`

// CreateDetails inserts the escrow extension row within a database
// transaction. The base payment row is inserted separately via PaymentRepo.
func (r *EscrowRepo) CreateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	query := `INSERT INTO escrow_details (payment_id, usd_amount, price_usd, hold_until, auto_release, disputed, resolved_by, released_at, claim_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.USDAmount, e.PriceUSD, e.HoldUntil,
		e.AutoRelease, e.Disputed, e.ResolvedBy, e.ReleasedAt, e.ClaimTokenHash,
	)
	if err != nil {
		return fmt.Errorf("insert escrow details: %w", err)
	}
	return nil
}

// GetByPaymentID fetches an escrow record joined with its base payment.
func (r *EscrowRepo) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.EscrowRecord, error) {
	query := `SELECT ` + escrowJoinColumns + `
		FROM escrow_details e JOIN payments p ON p.id = e.payment_id
		WHERE e.payment_id = $1`

	return scanEscrow(r.pool.QueryRow(ctx, query, paymentID))
}

// UpdateDetails updates the mutable escrow fields within a database
// transaction.
func (r *EscrowRepo) UpdateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	query := `UPDATE escrow_details
		SET auto_release = $1, disputed = $2, resolved_by = $3, released_at = $4
		WHERE payment_id = $5`

	tag, err := tx.Exec(ctx, query, e.AutoRelease, e.Disputed, e.ResolvedBy, e.ReleasedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update escrow details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow details not found: %s", e.ID)
	}
	return nil
}

// ListAutoReleasable returns escrows past their hold window that still have
// auto-release on and no dispute raised.
func (r *EscrowRepo) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]domain.EscrowRecord, error) {
	query := `SELECT ` + escrowJoinColumns + `
		FROM escrow_details e JOIN payments p ON p.id = e.payment_id
		WHERE p.status = 'ESCROWED' AND e.auto_release AND NOT e.disputed AND e.hold_until <= $1
		ORDER BY e.hold_until ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list auto-releasable escrows: %w", err)
	}
	defer rows.Close()

	var records []domain.EscrowRecord
	for rows.Next() {
		rec, err := scanEscrowRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return records, nil
}

func scanEscrow(row pgx.Row) (*domain.EscrowRecord, error) {
	rec, err := scanEscrowRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanEscrowRow(row pgx.Row) (*domain.EscrowRecord, error) {
	e := &domain.EscrowRecord{}
	var splits []byte
	err := row.Scan(
		&e.ID, &e.MerchantID, &e.Merchant, &e.Customer, &e.Amount,
		&e.SessionID, &e.Description, &e.PaymentType, &e.Status,
		&splits, &e.ReferralCode, &e.CreatedAt, &e.ExpiresAt, &e.PaidAt,
		&e.USDAmount, &e.PriceUSD, &e.HoldUntil, &e.AutoRelease,
		&e.Disputed, &e.ResolvedBy, &e.ReleasedAt, &e.ClaimTokenHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	if len(splits) > 0 {
		if err := json.Unmarshal(splits, &e.Splits); err != nil {
			return nil, fmt.Errorf("unmarshal splits: %w", err)
		}
	}
	return e, nil
}
