package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupTracker(t *testing.T, cfg TrackerConfig) (*ConfirmationTracker, *mocks.MockChainReader, *mocks.MockLedgerService, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockChainReader(ctrl)
	ledger := mocks.NewMockLedgerService(ctrl)
	tracker := NewConfirmationTracker(chain, ledger, cfg, zerolog.Nop())
	return tracker, chain, ledger, ctrl
}

func TestTracker_FirstPollStartsAtConfirmedTip(t *testing.T) {
	tracker, chain, _, ctrl := setupTracker(t, TrackerConfig{Confirmations: 2, PollInterval: time.Second})
	defer ctrl.Finish()

	ctx := context.Background()
	chain.EXPECT().BlockNumber(ctx).Return(uint64(100), nil)

	require.NoError(t, tracker.PollOnce(ctx))
	assert.Equal(t, uint64(98), tracker.lastScanned)
}

func TestTracker_ScansOnlyConfirmedBlocks(t *testing.T) {
	tracker, chain, ledger, ctrl := setupTracker(t, TrackerConfig{
		Confirmations: 2, PollInterval: time.Second, StartBlock: 98,
	})
	defer ctrl.Finish()

	ctx := context.Background()
	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 1,
		To: "0xMERCHANT", Amount: 25_000_000,
		Reference: "order-001", BlockNumber: 99,
	}

	// Head 101 with 2 confirmations: only blocks through 99 are final.
	chain.EXPECT().BlockNumber(ctx).Return(uint64(101), nil)
	chain.EXPECT().SettlementTransfers(ctx, uint64(99), uint64(99)).
		Return([]domain.ObservedTransfer{transfer}, nil)
	ledger.EXPECT().ApplyTransfer(ctx, transfer).Return(nil)

	require.NoError(t, tracker.PollOnce(ctx))
	assert.Equal(t, uint64(99), tracker.lastScanned)

	// Head did not advance enough: nothing new to scan.
	chain.EXPECT().BlockNumber(ctx).Return(uint64(101), nil)
	require.NoError(t, tracker.PollOnce(ctx))
	assert.Equal(t, uint64(99), tracker.lastScanned)
}

func TestTracker_CapsCatchupSpan(t *testing.T) {
	tracker, chain, ledger, ctrl := setupTracker(t, TrackerConfig{
		Confirmations: 2, PollInterval: time.Second, StartBlock: 100,
	})
	defer ctrl.Finish()

	ctx := context.Background()
	// 5000 blocks behind: one poll scans at most maxScanSpan of them.
	chain.EXPECT().BlockNumber(ctx).Return(uint64(5102), nil)
	chain.EXPECT().SettlementTransfers(ctx, uint64(101), uint64(101+maxScanSpan-1)).
		Return(nil, nil)
	_ = ledger

	require.NoError(t, tracker.PollOnce(ctx))
	assert.Equal(t, uint64(101+maxScanSpan-1), tracker.lastScanned)
}

func TestTracker_ApplyErrorDoesNotBlockBatch(t *testing.T) {
	tracker, chain, ledger, ctrl := setupTracker(t, TrackerConfig{
		Confirmations: 0, PollInterval: time.Second, StartBlock: 10,
	})
	defer ctrl.Finish()

	ctx := context.Background()
	t1 := domain.ObservedTransfer{TxHash: "0x1", Reference: "a", BlockNumber: 11}
	t2 := domain.ObservedTransfer{TxHash: "0x2", Reference: "b", BlockNumber: 11}

	chain.EXPECT().BlockNumber(ctx).Return(uint64(11), nil)
	chain.EXPECT().SettlementTransfers(ctx, uint64(11), uint64(11)).
		Return([]domain.ObservedTransfer{t1, t2}, nil)
	ledger.EXPECT().ApplyTransfer(ctx, t1).Return(errors.New("db down"))
	ledger.EXPECT().ApplyTransfer(ctx, t2).Return(nil)

	require.NoError(t, tracker.PollOnce(ctx))
	assert.Equal(t, uint64(11), tracker.lastScanned)
}

func TestTracker_ChainErrorPropagates(t *testing.T) {
	tracker, chain, _, ctrl := setupTracker(t, TrackerConfig{Confirmations: 2, PollInterval: time.Second})
	defer ctrl.Finish()

	ctx := context.Background()
	chain.EXPECT().BlockNumber(ctx).Return(uint64(0), errors.New("rpc timeout"))

	err := tracker.PollOnce(ctx)
	assertCode(t, err, "SYS_002")
	assert.Contains(t, err.Error(), "rpc timeout")
}
