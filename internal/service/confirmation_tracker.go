package service

import (
	"context"
	"fmt"
	"time"

	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"

	"github.com/rs/zerolog"
)

// maxScanSpan caps one poll's block range so a tracker catching up after
// downtime does not issue unbounded log queries.
const maxScanSpan = 1000

// TrackerConfig parameterizes chain polling.
type TrackerConfig struct {
	Confirmations uint64        // blocks behind head considered final
	PollInterval  time.Duration
	StartBlock    uint64 // 0 means start at the confirmed tip
}

// ConfirmationTracker polls the settlement chain and feeds confirmed
// transfers into the ledger. A transfer only reaches the ledger once its
// block is at least Confirmations behind the head; reorgs shallower than
// that can never un-settle a payment.
type ConfirmationTracker struct {
	chain       ports.ChainReader
	ledger      ports.LedgerService
	cfg         TrackerConfig
	lastScanned uint64
	log         zerolog.Logger
}

// NewConfirmationTracker creates a new ConfirmationTracker.
func NewConfirmationTracker(chain ports.ChainReader, ledger ports.LedgerService, cfg TrackerConfig, log zerolog.Logger) *ConfirmationTracker {
	return &ConfirmationTracker{
		chain:       chain,
		ledger:      ledger,
		cfg:         cfg,
		lastScanned: cfg.StartBlock,
		log:         log,
	}
}

// Run polls until ctx is cancelled. Chain errors are logged and retried on
// the next tick; they never kill the loop.
func (t *ConfirmationTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.log.Info().
		Uint64("confirmations", t.cfg.Confirmations).
		Dur("interval", t.cfg.PollInterval).
		Msg("confirmation tracker started")

	for {
		select {
		case <-ctx.Done():
			t.log.Info().Msg("confirmation tracker stopped")
			return
		case <-ticker.C:
			if err := t.PollOnce(ctx); err != nil {
				t.log.Error().Err(err).Msg("poll failed")
			}
		}
	}
}

// PollOnce scans newly confirmed blocks and applies their transfers.
func (t *ConfirmationTracker) PollOnce(ctx context.Context) error {
	head, err := t.chain.BlockNumber(ctx)
	if err != nil {
		return apperror.ErrChainUnavailable(fmt.Errorf("block number: %w", err))
	}
	if head < t.cfg.Confirmations {
		return nil
	}
	confirmedHead := head - t.cfg.Confirmations

	if t.lastScanned == 0 {
		// First poll with no configured start: begin at the confirmed tip
		// rather than replaying chain history.
		t.lastScanned = confirmedHead
		t.log.Info().Uint64("block", confirmedHead).Msg("tracker starting at confirmed tip")
		return nil
	}
	if confirmedHead <= t.lastScanned {
		return nil
	}

	from := t.lastScanned + 1
	to := confirmedHead
	if to-from >= maxScanSpan {
		to = from + maxScanSpan - 1
	}

	transfers, err := t.chain.SettlementTransfers(ctx, from, to)
	if err != nil {
		return apperror.ErrChainUnavailable(fmt.Errorf("settlement transfers %d-%d: %w", from, to, err))
	}

	for _, transfer := range transfers {
		// ApplyTransfer is idempotent per transfer; an error on one never
		// blocks the rest of the batch.
		if err := t.ledger.ApplyTransfer(ctx, transfer); err != nil {
			t.log.Warn().
				Err(err).
				Str("tx_hash", transfer.TxHash).
				Uint32("log_index", transfer.LogIndex).
				Msg("transfer not applied")
		}
	}

	t.lastScanned = to
	if len(transfers) > 0 {
		t.log.Info().
			Uint64("from", from).
			Uint64("to", to).
			Int("transfers", len(transfers)).
			Msg("scanned confirmed blocks")
	}
	return nil
}
