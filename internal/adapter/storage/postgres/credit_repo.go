package postgres

import (
	"context"
	"fmt"

	"pylinks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreditRepo implements ports.CreditRepository.
type CreditRepo struct {
	pool Pool
}

// NewCreditRepo creates a new CreditRepo.
func NewCreditRepo(pool Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateBatch inserts the settlement credits for one payment within a
// database transaction.
func (r *CreditRepo) CreateBatch(ctx context.Context, tx pgx.Tx, entries []domain.CreditEntry) error {
	query := `INSERT INTO payment_credits (id, payment_id, recipient, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	for _, e := range entries {
		if _, err := tx.Exec(ctx, query, e.ID, e.PaymentID, e.Recipient, e.Amount, e.CreatedAt); err != nil {
			return fmt.Errorf("insert credit entry: %w", err)
		}
	}
	return nil
}

// ListByPayment fetches the credits produced by one payment's settlement.
func (r *CreditRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.CreditEntry, error) {
	query := `SELECT id, payment_id, recipient, amount, created_at
		FROM payment_credits WHERE payment_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()

	var entries []domain.CreditEntry
	for rows.Next() {
		e := domain.CreditEntry{}
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Recipient, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit rows: %w", err)
	}
	return entries, nil
}
