package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, merchant_id, merchant_wallet, customer, amount, session_id, description, payment_type, status, splits, referral_code, created_at, expires_at, paid_at`

// Create inserts a new payment record within a database transaction.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PaymentRecord) error {
	splits, err := json.Marshal(p.Splits)
	if err != nil {
		return fmt.Errorf("marshal splits: %w", err)
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.Exec(ctx, query,
		p.ID, p.MerchantID, p.Merchant, p.Customer, p.Amount,
		p.SessionID, p.Description, p.PaymentType, p.Status,
		splits, p.ReferralCode, p.CreatedAt, p.ExpiresAt, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment record by UUID.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a payment record with a row lock so concurrent
// transitions on the same record serialize on the database.
func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, id))
}

// GetBySession fetches a merchant's payment by session identifier.
func (r *PaymentRepo) GetBySession(ctx context.Context, merchantID uuid.UUID, sessionID string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE merchant_id = $1 AND session_id = $2
		ORDER BY created_at DESC LIMIT 1`
	return scanPayment(r.pool.QueryRow(ctx, query, merchantID, sessionID))
}

// GetByReference finds the open payment a confirmed transfer refers to.
// Only CREATED records are fundable; terminal and already-funded rows are
// never matched.
func (r *PaymentRepo) GetByReference(ctx context.Context, reference string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE session_id = $1 AND status = 'CREATED'
		ORDER BY created_at ASC LIMIT 1`
	return scanPayment(r.pool.QueryRow(ctx, query, reference))
}

// UpdateStatus transitions a payment from one status to another. The guard on
// the current status makes the update a compare-and-swap: zero rows affected
// means another writer got there first.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.PaymentStatus, paidAt *time.Time) (bool, error) {
	query := `UPDATE payments SET status = $1, paid_at = COALESCE($2, paid_at) WHERE id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query, to, paidAt, id, from)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetCustomer records the payer address observed on the settlement layer.
func (r *PaymentRepo) SetCustomer(ctx context.Context, tx pgx.Tx, id uuid.UUID, customer string) error {
	query := `UPDATE payments SET customer = $1 WHERE id = $2`

	_, err := tx.Exec(ctx, query, customer, id)
	if err != nil {
		return fmt.Errorf("set payment customer: %w", err)
	}
	return nil
}

// ExpireOverdue flips CREATED payments past their deadline to EXPIRED and
// returns the affected records.
func (r *PaymentRepo) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PaymentRecord, error) {
	query := `UPDATE payments SET status = 'EXPIRED'
		WHERE id IN (
			SELECT id FROM payments
			WHERE status = 'CREATED' AND expires_at < $1
			ORDER BY expires_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + paymentColumns

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expire overdue payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// List fetches payments with filtering and pagination.
func (r *PaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.PaymentRecord, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
	args = append(args, params.MerchantID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("payment_type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payments %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	records, err := collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// GetStats retrieves aggregated payment statistics for a merchant.
func (r *PaymentRepo) GetStats(ctx context.Context, merchantID uuid.UUID, periodStart *int64) (*ports.PaymentStats, error) {
	var args []any
	argIdx := 1

	condition := fmt.Sprintf("merchant_id = $%d", argIdx)
	args = append(args, merchantID)
	argIdx++

	if periodStart != nil {
		condition += fmt.Sprintf(" AND created_at >= to_timestamp($%d)", argIdx)
		args = append(args, *periodStart)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'PAID') AS paid,
		COUNT(*) FILTER (WHERE status = 'EXPIRED') AS expired,
		COUNT(*) FILTER (WHERE status = 'REFUNDED') AS refunded,
		COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled,
		COUNT(*) FILTER (WHERE status = 'ESCROWED') AS in_escrow,
		COUNT(*) FILTER (WHERE status = 'DISPUTED') AS disputed,
		COALESCE(SUM(amount) FILTER (WHERE status = 'PAID'), 0) AS volume,
		COALESCE(SUM(amount) FILTER (WHERE status = 'REFUNDED'), 0) AS refunded_volume
		FROM payments WHERE %s`, condition)

	stats := &ports.PaymentStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalPayments, &stats.Paid, &stats.Expired, &stats.Refunded,
		&stats.Cancelled, &stats.InEscrow, &stats.Disputed,
		&stats.TotalVolume, &stats.TotalRefunded,
	)
	if err != nil {
		return nil, fmt.Errorf("get payment stats: %w", err)
	}
	return stats, nil
}

// scanPayment scans a single row into a PaymentRecord.
func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	p := &domain.PaymentRecord{}
	var splits []byte
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.Merchant, &p.Customer, &p.Amount,
		&p.SessionID, &p.Description, &p.PaymentType, &p.Status,
		&splits, &p.ReferralCode, &p.CreatedAt, &p.ExpiresAt, &p.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if len(splits) > 0 {
		if err := json.Unmarshal(splits, &p.Splits); err != nil {
			return nil, fmt.Errorf("unmarshal splits: %w", err)
		}
	}
	return p, nil
}

func collectPayments(rows pgx.Rows) ([]domain.PaymentRecord, error) {
	var records []domain.PaymentRecord
	for rows.Next() {
		p := domain.PaymentRecord{}
		var splits []byte
		err := rows.Scan(
			&p.ID, &p.MerchantID, &p.Merchant, &p.Customer, &p.Amount,
			&p.SessionID, &p.Description, &p.PaymentType, &p.Status,
			&splits, &p.ReferralCode, &p.CreatedAt, &p.ExpiresAt, &p.PaidAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		if len(splits) > 0 {
			if err := json.Unmarshal(splits, &p.Splits); err != nil {
				return nil, fmt.Errorf("unmarshal splits: %w", err)
			}
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return records, nil
}
