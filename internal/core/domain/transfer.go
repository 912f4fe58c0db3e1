package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ObservedTransfer is a settlement-layer transfer decoded from a confirmed
// log. Reference carries the session identifier embedded by the payer.
type ObservedTransfer struct {
	TxHash      string
	LogIndex    uint32
	From        string
	To          string
	Amount      int64 // settlement token units, 6 decimals
	Reference   string
	BlockNumber uint64
}

// Key uniquely identifies a transfer across restarts and re-scans.
func (t ObservedTransfer) Key() string {
	return fmt.Sprintf("%s:%d", t.TxHash, t.LogIndex)
}

// ProcessedTransfer records a transfer the ledger has already applied, so a
// re-observed transfer (restart, overlapping scan window) never credits twice.
type ProcessedTransfer struct {
	TxHash     string    `json:"tx_hash"`
	LogIndex   uint32    `json:"log_index"`
	PaymentID  uuid.UUID `json:"payment_id"`
	ObservedAt time.Time `json:"observed_at"`
}
