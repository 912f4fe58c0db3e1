package postgres

import (
	"context"
	"fmt"

	"pylinks/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// TransferRepo implements ports.TransferRepository. The primary key on
// (tx_hash, log_index) is the idempotency guarantee: a re-observed transfer
// conflicts and inserts nothing.
type TransferRepo struct {
	pool Pool
}

// NewTransferRepo creates a new TransferRepo.
func NewTransferRepo(pool Pool) *TransferRepo {
	return &TransferRepo{pool: pool}
}

// MarkProcessed records a transfer as applied. Returns false when the
// transfer was already recorded.
func (r *TransferRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, t *domain.ProcessedTransfer) (bool, error) {
	query := `INSERT INTO processed_transfers (tx_hash, log_index, payment_id, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`

	tag, err := tx.Exec(ctx, query, t.TxHash, t.LogIndex, t.PaymentID, t.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("mark transfer processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IsProcessed reports whether a transfer was already applied.
func (r *TransferRepo) IsProcessed(ctx context.Context, txHash string, logIndex uint32) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM processed_transfers WHERE tx_hash = $1 AND log_index = $2)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, txHash, logIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transfer processed: %w", err)
	}
	return exists, nil
}
