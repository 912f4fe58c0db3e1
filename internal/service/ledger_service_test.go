package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/internal/core/ports/mocks"
	"pylinks/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc          *LedgerServiceImpl
	payRepo      *mocks.MockPaymentRepository
	creditRepo   *mocks.MockCreditRepository
	transferRepo *mocks.MockTransferRepository
	affRepo      *mocks.MockAffiliateRepository
	merchantRepo *mocks.MockMerchantRepository
	sessionCache *mocks.MockSessionCache
	transactor   *mocks.MockDBTransactor
	sink         *mocks.MockTransitionSink
	ctrl         *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		payRepo:      mocks.NewMockPaymentRepository(ctrl),
		creditRepo:   mocks.NewMockCreditRepository(ctrl),
		transferRepo: mocks.NewMockTransferRepository(ctrl),
		affRepo:      mocks.NewMockAffiliateRepository(ctrl),
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		sessionCache: mocks.NewMockSessionCache(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		sink:         mocks.NewMockTransitionSink(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewLedgerService(
		d.payRepo, d.creditRepo, d.transferRepo, d.affRepo, d.merchantRepo,
		d.sessionCache, d.transactor, d.sink,
		LedgerConfig{
			SessionExpiry: 30 * time.Minute,
			RegularExpiry: 10 * time.Minute,
			RefundWindow:  24 * time.Hour,
		},
		zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

// ==================== CreatePayment Tests ====================

func TestLedgerService_CreatePayment_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	tx := &mockTx{}

	req := ports.CreatePaymentRequest{
		MerchantID:  merchantID,
		Amount:      "25.000000",
		SessionID:   "order-001",
		Description: "coffee beans",
		PaymentType: domain.PaymentTypeRegular,
	}

	key := merchantID.String() + ":order-001"
	d.sessionCache.EXPECT().Get(ctx, key).Return(nil, nil)
	d.payRepo.EXPECT().GetBySession(ctx, merchantID, "order-001").Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(&domain.Merchant{
		ID:            merchantID,
		WalletAddress: "0xMERCHANT",
		Status:        domain.MerchantStatusActive,
	}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.sessionCache.EXPECT().Set(ctx, key, gomock.Any(), sessionCacheTTL).Return(nil)

	record, err := d.svc.CreatePayment(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(25_000_000), record.Amount)
	assert.Equal(t, domain.PaymentStatusCreated, record.Status)
	assert.Equal(t, "0xMERCHANT", record.Merchant)
	// Regular payments get the hard 10-minute cap, not the session default.
	assert.WithinDuration(t, record.CreatedAt.Add(10*time.Minute), record.ExpiresAt, time.Second)
}

func TestLedgerService_CreatePayment_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	for _, amount := range []string{"", "abc", "-5", "0", "1.2345678"} {
		_, err := d.svc.CreatePayment(context.Background(), ports.CreatePaymentRequest{
			MerchantID: uuid.New(),
			Amount:     amount,
			SessionID:  "s1",
		})
		assertCode(t, err, "PAY_001")
	}
}

func TestLedgerService_CreatePayment_CachedReplay(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	existing := &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Amount:      25_000_000,
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
	}
	cached, _ := json.Marshal(existing)

	d.sessionCache.EXPECT().Get(ctx, merchantID.String()+":order-001").Return(cached, nil)
	d.payRepo.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil)

	record, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID: merchantID,
		Amount:     "25.000000",
		SessionID:  "order-001",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, record.ID)
}

func TestLedgerService_CreatePayment_CachedReplayConflict(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	existing := &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Amount:      10_000_000, // different amount: conflicting reuse
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
	}
	cached, _ := json.Marshal(existing)

	// The cache hit alone must not answer; conflicting parameters are
	// rejected before the snapshot is served.
	d.sessionCache.EXPECT().Get(ctx, merchantID.String()+":order-001").Return(cached, nil)

	_, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID:  merchantID,
		Amount:      "25.000000",
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
	})
	assertCode(t, err, "PAY_004")
}

func TestLedgerService_CreatePayment_CachedReplayServesLiveStatus(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	snapshot := &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Amount:      25_000_000,
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
	}
	cached, _ := json.Marshal(snapshot)

	settled := *snapshot
	settled.Status = domain.PaymentStatusPaid

	d.sessionCache.EXPECT().Get(ctx, merchantID.String()+":order-001").Return(cached, nil)
	d.payRepo.EXPECT().GetByID(ctx, snapshot.ID).Return(&settled, nil)

	record, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID:  merchantID,
		Amount:      "25.000000",
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
	})
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, record.ID)
	// A replay after settlement reflects the settled ledger, not the
	// creation-time snapshot.
	assert.Equal(t, domain.PaymentStatusPaid, record.Status)
}

func TestLedgerService_CreatePayment_DBReplaySameParams(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	existing := &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Amount:      25_000_000,
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
	}

	d.sessionCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.payRepo.EXPECT().GetBySession(ctx, merchantID, "order-001").Return(existing, nil)

	record, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID:  merchantID,
		Amount:      "25.000000",
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, record.ID)
}

func TestLedgerService_CreatePayment_SessionConflict(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	existing := &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Amount:      10_000_000, // different amount: conflicting reuse
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
	}

	d.sessionCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.payRepo.EXPECT().GetBySession(ctx, merchantID, "order-001").Return(existing, nil)

	_, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID:  merchantID,
		Amount:      "25.000000",
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
	})
	assertCode(t, err, "PAY_004")
}

func TestLedgerService_CreatePayment_InvalidSplits(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()

	d.sessionCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.payRepo.EXPECT().GetBySession(ctx, merchantID, "order-001").Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(&domain.Merchant{ID: merchantID, WalletAddress: "0xM"}, nil)

	_, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID: merchantID,
		Amount:     "25.000000",
		SessionID:  "order-001",
		Splits: []domain.Split{
			{Recipient: "0xA", Bps: 7000},
			{Recipient: "0xB", Bps: 7000},
		},
	})
	assertCode(t, err, "PAY_006")
}

func TestLedgerService_CreatePayment_UnknownReferralCode(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()

	d.sessionCache.EXPECT().Get(ctx, gomock.Any()).Return(nil, nil)
	d.payRepo.EXPECT().GetBySession(ctx, merchantID, "order-001").Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchantID).Return(&domain.Merchant{ID: merchantID, WalletAddress: "0xM"}, nil)
	d.affRepo.EXPECT().GetByCode(ctx, "NOPE1234").Return(nil, nil)

	_, err := d.svc.CreatePayment(ctx, ports.CreatePaymentRequest{
		MerchantID:   merchantID,
		Amount:       "25.000000",
		SessionID:    "order-001",
		ReferralCode: "NOPE1234",
	})
	assertCode(t, err, "PAY_005")
}

// ==================== ApplyTransfer Tests ====================

func pendingPayment(merchantID uuid.UUID) *domain.PaymentRecord {
	now := time.Now().UTC()
	return &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Merchant:    "0xMERCHANT",
		Amount:      25_000_000,
		SessionID:   "order-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestLedgerService_ApplyTransfer_SettlesPayment(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	tx := &mockTx{}

	transfer := domain.ObservedTransfer{
		TxHash:    "0xabc",
		LogIndex:  3,
		From:      "0xCUSTOMER",
		To:        "0xMERCHANT",
		Amount:    25_000_000,
		Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(true, nil)
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusPaid, gomock.Any()).
		Return(true, nil)
	d.payRepo.EXPECT().SetCustomer(ctx, tx, record.ID, "0xCUSTOMER").Return(nil)
	d.creditRepo.EXPECT().CreateBatch(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, entries []domain.CreditEntry) error {
			require.Len(t, entries, 1)
			assert.Equal(t, "0xMERCHANT", entries[0].Recipient)
			assert.Equal(t, int64(25_000_000), entries[0].Amount)
			return nil
		})
	d.sink.EXPECT().Emit(ctx, gomock.Any()).Do(func(_ context.Context, ev domain.TransitionEvent) {
		assert.Equal(t, domain.EventPaymentPaid, ev.EventType)
		assert.Equal(t, domain.PaymentStatusPaid, ev.Status)
	})

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

func TestLedgerService_ApplyTransfer_EscrowFunding(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	record.PaymentType = domain.PaymentTypeEscrow
	tx := &mockTx{}

	transfer := domain.ObservedTransfer{
		TxHash:    "0xdef",
		LogIndex:  0,
		From:      "0xCUSTOMER",
		To:        "0xMERCHANT",
		Amount:    25_000_000,
		Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xdef", uint32(0)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(true, nil)
	// Escrow funding holds the money: no credits yet, no paid_at.
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusEscrowed, nil).
		Return(true, nil)
	d.payRepo.EXPECT().SetCustomer(ctx, tx, record.ID, "0xCUSTOMER").Return(nil)
	d.sink.EXPECT().Emit(ctx, gomock.Any()).Do(func(_ context.Context, ev domain.TransitionEvent) {
		assert.Equal(t, domain.EventEscrowFunded, ev.EventType)
	})

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

func TestLedgerService_ApplyTransfer_ReplayIsNoop(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(true, nil)

	err := d.svc.ApplyTransfer(ctx, domain.ObservedTransfer{TxHash: "0xabc", LogIndex: 3})
	require.NoError(t, err)
}

func TestLedgerService_ApplyTransfer_InTxReplayIsNoop(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	tx := &mockTx{}

	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 3,
		From: "0xCUSTOMER", To: "0xMERCHANT",
		Amount: 25_000_000, Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	// A concurrent applier won the insert race.
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(false, nil)

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

func TestLedgerService_ApplyTransfer_AmountMismatchIgnored(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())

	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 3,
		From: "0xCUSTOMER", To: "0xMERCHANT",
		Amount: 1, Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

func TestLedgerService_ApplyTransfer_LateTransferRejected(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	record.CreatedAt = time.Now().UTC().Add(-time.Hour)
	record.ExpiresAt = time.Now().UTC().Add(-50 * time.Minute)
	tx := &mockTx{}

	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 3,
		From: "0xCUSTOMER", To: "0xMERCHANT",
		Amount: 25_000_000, Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(true, nil)
	// No UpdateStatus, no credits, no event: the transfer is only logged.

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

func TestLedgerService_ApplyTransfer_LostRace(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	record.Status = domain.PaymentStatusCancelled
	tx := &mockTx{}

	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 3,
		From: "0xCUSTOMER", To: "0xMERCHANT",
		Amount: 25_000_000, Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(true, nil)

	err := d.svc.ApplyTransfer(ctx, transfer)
	assertCode(t, err, "PAY_002")
}

func TestLedgerService_ApplyTransfer_AccruesReferral(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	record.ReferralCode = "GOLD1234"
	tx := &mockTx{}

	affiliate := &domain.Affiliate{ID: uuid.New(), ReferralCode: "GOLD1234", Tier: domain.TierBronze}

	transfer := domain.ObservedTransfer{
		TxHash: "0xabc", LogIndex: 3,
		From: "0xCUSTOMER", To: "0xMERCHANT",
		Amount: 25_000_000, Reference: "order-001",
	}

	d.transferRepo.EXPECT().IsProcessed(ctx, "0xabc", uint32(3)).Return(false, nil)
	d.payRepo.EXPECT().GetByReference(ctx, "order-001").Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.transferRepo.EXPECT().MarkProcessed(ctx, tx, gomock.Any()).Return(true, nil)
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusPaid, gomock.Any()).
		Return(true, nil)
	d.payRepo.EXPECT().SetCustomer(ctx, tx, record.ID, "0xCUSTOMER").Return(nil)
	d.creditRepo.EXPECT().CreateBatch(ctx, tx, gomock.Any()).Return(nil)
	d.affRepo.EXPECT().GetByCodeForUpdate(ctx, tx, "GOLD1234").Return(affiliate, nil)
	d.affRepo.EXPECT().Update(ctx, tx, affiliate).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, a *domain.Affiliate) error {
			assert.Equal(t, int64(1), a.TotalReferrals)
			assert.Equal(t, int64(25_000_000), a.TotalVolume)
			return nil
		})
	d.sink.EXPECT().Emit(ctx, gomock.Any())

	require.NoError(t, d.svc.ApplyTransfer(ctx, transfer))
}

// ==================== Cancel / Refund Tests ====================

func TestLedgerService_CancelPayment_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	record := pendingPayment(merchantID)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusCancelled, nil).
		Return(true, nil)
	d.sink.EXPECT().Emit(ctx, gomock.Any()).Do(func(_ context.Context, ev domain.TransitionEvent) {
		assert.Equal(t, domain.EventPaymentCancelled, ev.EventType)
	})

	result, err := d.svc.CancelPayment(ctx, merchantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, result.Status)
}

func TestLedgerService_CancelPayment_WrongMerchant(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)

	_, err := d.svc.CancelPayment(ctx, uuid.New(), record.ID)
	assertCode(t, err, "PAY_005")
}

func TestLedgerService_CancelPayment_AlreadyPaid(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	record := pendingPayment(merchantID)
	record.Status = domain.PaymentStatusPaid
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)

	_, err := d.svc.CancelPayment(ctx, merchantID, record.ID)
	assertCode(t, err, "PAY_002")
}

func TestLedgerService_RefundPayment_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	record := pendingPayment(merchantID)
	record.Status = domain.PaymentStatusPaid
	paidAt := time.Now().UTC().Add(-time.Hour)
	record.PaidAt = &paidAt
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusPaid, domain.PaymentStatusRefunded, nil).
		Return(true, nil)
	d.sink.EXPECT().Emit(ctx, gomock.Any())

	result, err := d.svc.RefundPayment(ctx, merchantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, result.Status)
}

func TestLedgerService_RefundPayment_WindowClosed(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	record := pendingPayment(merchantID)
	record.Status = domain.PaymentStatusPaid
	paidAt := time.Now().UTC().Add(-48 * time.Hour)
	record.PaidAt = &paidAt
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)

	_, err := d.svc.RefundPayment(ctx, merchantID, record.ID)
	assertCode(t, err, "PAY_007")
}

func TestLedgerService_RefundPayment_NotPaid(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	record := pendingPayment(merchantID)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().GetByIDForUpdate(ctx, tx, record.ID).Return(record, nil)

	_, err := d.svc.RefundPayment(ctx, merchantID, record.ID)
	assertCode(t, err, "PAY_003")
}

// ==================== Expiry Tests ====================

func TestLedgerService_GetPayment_LazyExpiry(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	record := pendingPayment(uuid.New())
	record.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	tx := &mockTx{}

	d.payRepo.EXPECT().GetByID(ctx, record.ID).Return(record, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.payRepo.EXPECT().
		UpdateStatus(ctx, tx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusExpired, nil).
		Return(true, nil)
	d.sink.EXPECT().Emit(ctx, gomock.Any()).Do(func(_ context.Context, ev domain.TransitionEvent) {
		assert.Equal(t, domain.EventPaymentExpired, ev.EventType)
	})

	result, err := d.svc.GetPayment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, result.Status)
}

func TestLedgerService_GetPayment_NotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.payRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := d.svc.GetPayment(ctx, id)
	assertCode(t, err, "PAY_005")
}

func TestLedgerService_ExpireOverdue_EmitsEvents(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	now := time.Now().UTC()
	expired := []domain.PaymentRecord{
		{ID: uuid.New(), MerchantID: uuid.New(), Status: domain.PaymentStatusExpired},
		{ID: uuid.New(), MerchantID: uuid.New(), Status: domain.PaymentStatusExpired},
	}

	d.payRepo.EXPECT().ExpireOverdue(ctx, now, expireSweepBatch).Return(expired, nil)
	d.sink.EXPECT().Emit(ctx, gomock.Any()).Times(2)

	count, err := d.svc.ExpireOverdue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
