package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pylinks/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookRepo implements ports.WebhookRepository.
type WebhookRepo struct {
	pool Pool
}

// NewWebhookRepo creates a new WebhookRepo.
func NewWebhookRepo(pool Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

const webhookColumns = `id, payment_id, merchant_id, event_type, webhook_url, payload, signature,
		attempt, status, http_status, next_retry_at, last_error, delivered_at, created_at, updated_at`

// CreateEvent inserts a queued webhook event.
func (r *WebhookRepo) CreateEvent(ctx context.Context, e *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.PaymentID, e.MerchantID, e.EventType, e.WebhookURL,
		e.Payload, e.Signature, e.Attempt, e.Status, e.HTTPStatus,
		e.NextRetryAt, e.LastError, e.DeliveredAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// Update persists the delivery bookkeeping after an attempt.
func (r *WebhookRepo) Update(ctx context.Context, e *domain.WebhookEvent) error {
	e.UpdatedAt = time.Now().UTC()
	query := `UPDATE webhook_events
		SET attempt = $1, status = $2, http_status = $3, next_retry_at = $4,
			last_error = $5, delivered_at = $6, updated_at = $7
		WHERE id = $8`

	_, err := r.pool.Exec(ctx, query,
		e.Attempt, e.Status, e.HTTPStatus, e.NextRetryAt,
		e.LastError, e.DeliveredAt, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	return nil
}

// GetEvent returns one event by ID, or nil when absent.
func (r *WebhookRepo) GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE id = $1`

	e := domain.WebhookEvent{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.PaymentID, &e.MerchantID, &e.EventType, &e.WebhookURL,
		&e.Payload, &e.Signature, &e.Attempt, &e.Status, &e.HTTPStatus,
		&e.NextRetryAt, &e.LastError, &e.DeliveredAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &e, nil
}

// ListDue returns pending or transiently failed events whose next attempt
// time has arrived.
func (r *WebhookRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE status IN ('PENDING', 'FAILED') AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due webhook events: %w", err)
	}
	defer rows.Close()

	return collectWebhookEvents(rows)
}

// ListByPayment returns all webhook events for a payment, newest first.
func (r *WebhookRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE payment_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	return collectWebhookEvents(rows)
}

func collectWebhookEvents(rows pgx.Rows) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	for rows.Next() {
		e := domain.WebhookEvent{}
		err := rows.Scan(
			&e.ID, &e.PaymentID, &e.MerchantID, &e.EventType, &e.WebhookURL,
			&e.Payload, &e.Signature, &e.Attempt, &e.Status, &e.HTTPStatus,
			&e.NextRetryAt, &e.LastError, &e.DeliveredAt, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook event rows: %w", err)
	}
	return events, nil
}
