package domain

import "errors"

// Sentinel errors for pure domain invariant checks. Services translate these
// into the apperror taxonomy at the boundary.
var (
	errEmptySplitRecipient = errors.New("split recipient must not be empty")
	errSplitBpsOutOfRange  = errors.New("split bps must be within [0, 10000]")
	errSplitTotalExceeded  = errors.New("split bps total exceeds 10000")

	// ErrPriceNonPositive rejects oracle answers that cannot price an escrow.
	ErrPriceNonPositive = errors.New("oracle price must be positive")
	// ErrUSDAmountNonPositive rejects empty escrow funding requests.
	ErrUSDAmountNonPositive = errors.New("usd amount must be positive")

	errAmountOverflow = errors.New("converted amount overflows int64")
)
