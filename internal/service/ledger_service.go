package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"
	"pylinks/pkg/fixedpoint"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	sessionCacheTTL = 24 * time.Hour
	expireSweepBatch = 100
	maxSessionIDLen  = 100
)

// LedgerConfig parameterizes the payment lifecycle windows.
type LedgerConfig struct {
	SessionExpiry time.Duration // default funding window
	RegularExpiry time.Duration // hard cap for REGULAR payments
	RefundWindow  time.Duration // merchant refund window after settlement
}

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	payRepo      ports.PaymentRepository
	creditRepo   ports.CreditRepository
	transferRepo ports.TransferRepository
	affRepo      ports.AffiliateRepository
	merchantRepo ports.MerchantRepository
	sessionCache ports.SessionCache
	transactor   ports.DBTransactor
	sink         ports.TransitionSink
	cfg          LedgerConfig
	log          zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	payRepo ports.PaymentRepository,
	creditRepo ports.CreditRepository,
	transferRepo ports.TransferRepository,
	affRepo ports.AffiliateRepository,
	merchantRepo ports.MerchantRepository,
	sessionCache ports.SessionCache,
	transactor ports.DBTransactor,
	sink ports.TransitionSink,
	cfg LedgerConfig,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		payRepo:      payRepo,
		creditRepo:   creditRepo,
		transferRepo: transferRepo,
		affRepo:      affRepo,
		merchantRepo: merchantRepo,
		sessionCache: sessionCache,
		transactor:   transactor,
		sink:         sink,
		cfg:          cfg,
		log:          log,
	}
}

// sessionKey builds the replay-cache key for a merchant session.
func sessionKey(merchantID uuid.UUID, sessionID string) string {
	return merchantID.String() + ":" + sessionID
}

// CreatePayment registers a new payment in status CREATED. Re-submitting the
// same session is an idempotent replay; reusing a session with different
// parameters is rejected.
func (s *LedgerServiceImpl) CreatePayment(ctx context.Context, req ports.CreatePaymentRequest) (*domain.PaymentRecord, error) {
	amount, err := fixedpoint.ToFixedPoint(req.Amount, fixedpoint.TokenPrecision)
	if err != nil {
		return nil, apperror.ErrInvalidAmount(err.Error())
	}
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount("amount must be positive")
	}
	if req.SessionID == "" || len(req.SessionID) > maxSessionIDLen {
		return nil, apperror.Validation("session_id must be 1-100 characters")
	}
	if len(req.Description) > domain.MaxDescriptionLen {
		return nil, apperror.Validation("description too long")
	}
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentTypeRegular
	}
	if req.PaymentType != domain.PaymentTypeRegular && req.PaymentType != domain.PaymentTypeSubscription {
		return nil, apperror.Validation("payment_type must be REGULAR or SUBSCRIPTION")
	}

	key := sessionKey(req.MerchantID, req.SessionID)

	// Layer 1: Redis replay check. The cache entry is a creation-time
	// snapshot, so it gets the same parameter comparison as the DB path
	// and never answers for a request it does not match.
	cached, err := s.sessionCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("session cache check failed, falling through to DB")
	}
	if cached != nil {
		cachedRec, err := s.unmarshalCachedPayment(cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("corrupt session cache entry, falling through to DB")
		} else {
			if cachedRec.Amount != amount || cachedRec.PaymentType != req.PaymentType {
				return nil, apperror.ErrDuplicateSession(req.SessionID)
			}
			// Serve the live row; the snapshot's status may be stale
			// once the payment settles or expires.
			fresh, err := s.payRepo.GetByID(ctx, cachedRec.ID)
			if err == nil && fresh != nil {
				return fresh, nil
			}
			return cachedRec, nil
		}
	}

	// Layer 2: DB replay check
	existing, err := s.payRepo.GetBySession(ctx, req.MerchantID, req.SessionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("session lookup: %w", err))
	}
	if existing != nil {
		if existing.Amount != amount || existing.PaymentType != req.PaymentType {
			return nil, apperror.ErrDuplicateSession(req.SessionID)
		}
		return existing, nil
	}

	merchant, err := s.merchantRepo.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("merchant lookup: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}

	if req.ReferralCode != "" {
		aff, err := s.affRepo.GetByCode(ctx, req.ReferralCode)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("referral lookup: %w", err))
		}
		if aff == nil {
			return nil, apperror.ErrNotFound("referral code")
		}
	}

	now := time.Now().UTC()
	expiry := s.cfg.SessionExpiry
	// Product rule: regular payments always expire within the hard cap.
	if req.PaymentType == domain.PaymentTypeRegular && s.cfg.RegularExpiry < expiry {
		expiry = s.cfg.RegularExpiry
	}

	record := &domain.PaymentRecord{
		ID:           uuid.New(),
		MerchantID:   req.MerchantID,
		Merchant:     merchant.WalletAddress,
		Amount:       amount,
		SessionID:    req.SessionID,
		Description:  req.Description,
		PaymentType:  req.PaymentType,
		Status:       domain.PaymentStatusCreated,
		Splits:       req.Splits,
		ReferralCode: req.ReferralCode,
		CreatedAt:    now,
		ExpiresAt:    now.Add(expiry),
	}
	if err := record.ValidateSplits(); err != nil {
		return nil, apperror.ErrInvalidSplits(err.Error())
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.payRepo.Create(ctx, dbTx, record); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	// Post-process: cache for replay (best-effort)
	if respJSON, err := json.Marshal(record); err == nil {
		if err := s.sessionCache.Set(ctx, key, respJSON, sessionCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to cache session")
		}
	}

	s.log.Info().
		Str("payment_id", record.ID.String()).
		Str("merchant_id", req.MerchantID.String()).
		Str("session_id", req.SessionID).
		Int64("amount", amount).
		Msg("payment created")

	return record, nil
}

// GetPayment returns a payment, enforcing expiry lazily: an overdue CREATED
// record is flipped to EXPIRED before it is returned.
func (s *LedgerServiceImpl) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	record, err := s.payRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if record == nil {
		return nil, apperror.ErrNotFound("payment")
	}

	now := time.Now().UTC()
	if record.Status == domain.PaymentStatusCreated && record.IsExpired(now) {
		if err := s.expireRecord(ctx, record, now); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// expireRecord flips one overdue CREATED record to EXPIRED. Losing the race
// to a concurrent transition is fine; the record is reloaded either way.
func (s *LedgerServiceImpl) expireRecord(ctx context.Context, record *domain.PaymentRecord, now time.Time) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	ok, err := s.payRepo.UpdateStatus(ctx, dbTx, record.ID, domain.PaymentStatusCreated, domain.PaymentStatusExpired, nil)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("expire payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if ok {
		record.Status = domain.PaymentStatusExpired
		s.emit(ctx, record, domain.EventPaymentExpired, now)
	} else {
		// Another writer got there first; reflect whatever it decided.
		fresh, err := s.payRepo.GetByID(ctx, record.ID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("reload payment: %w", err))
		}
		if fresh != nil {
			*record = *fresh
		}
	}
	return nil
}

// CancelPayment is a merchant-initiated cancel, allowed only from CREATED.
func (s *LedgerServiceImpl) CancelPayment(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRecord, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.payRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payment: %w", err))
	}
	if record == nil || record.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payment")
	}
	if !record.CanCancel() {
		return nil, apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusCancelled))
	}

	if _, err := s.payRepo.UpdateStatus(ctx, dbTx, id, domain.PaymentStatusCreated, domain.PaymentStatusCancelled, nil); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("cancel payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	record.Status = domain.PaymentStatusCancelled
	now := time.Now().UTC()
	s.emit(ctx, record, domain.EventPaymentCancelled, now)

	s.log.Info().Str("payment_id", id.String()).Msg("payment cancelled")
	return record, nil
}

// RefundPayment is a merchant-initiated refund, allowed only from PAID and
// only within the configured refund window.
func (s *LedgerServiceImpl) RefundPayment(ctx context.Context, merchantID, id uuid.UUID) (*domain.PaymentRecord, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.payRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payment: %w", err))
	}
	if record == nil || record.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payment")
	}

	now := time.Now().UTC()
	if record.Status != domain.PaymentStatusPaid {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("refund requires PAID status, current %s", record.Status))
	}
	if !record.CanRefund(now, s.cfg.RefundWindow) {
		return nil, apperror.ErrRefundWindowClosed()
	}

	if _, err := s.payRepo.UpdateStatus(ctx, dbTx, id, domain.PaymentStatusPaid, domain.PaymentStatusRefunded, nil); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("refund payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	record.Status = domain.PaymentStatusRefunded
	s.emit(ctx, record, domain.EventPaymentRefunded, now)

	s.log.Info().Str("payment_id", id.String()).Msg("payment refunded")
	return record, nil
}

// ApplyTransfer settles the payment a confirmed transfer references.
// The transfer is matched outside any lock; the transition itself commits
// inside a short transaction keyed by the row lock, and the processed-transfer
// marker makes replays no-ops.
func (s *LedgerServiceImpl) ApplyTransfer(ctx context.Context, transfer domain.ObservedTransfer) error {
	processed, err := s.transferRepo.IsProcessed(ctx, transfer.TxHash, transfer.LogIndex)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("processed check: %w", err))
	}
	if processed {
		return nil
	}

	record, err := s.payRepo.GetByReference(ctx, transfer.Reference)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("match transfer: %w", err))
	}
	if record == nil {
		s.log.Debug().Str("reference", transfer.Reference).Msg("transfer does not match any pending payment")
		return nil
	}
	if transfer.To != record.Merchant || transfer.Amount != record.Amount {
		s.log.Warn().
			Str("payment_id", record.ID.String()).
			Str("tx_hash", transfer.TxHash).
			Int64("amount", transfer.Amount).
			Msg("transfer references payment but recipient or amount mismatch, ignoring")
		return nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	fresh, err := s.payRepo.GetByIDForUpdate(ctx, dbTx, record.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock payment: %w", err))
	}
	if fresh == nil {
		return apperror.ErrNotFound("payment")
	}

	isNew, err := s.transferRepo.MarkProcessed(ctx, dbTx, &domain.ProcessedTransfer{
		TxHash:     transfer.TxHash,
		LogIndex:   transfer.LogIndex,
		PaymentID:  fresh.ID,
		ObservedAt: now,
	})
	if err != nil {
		return apperror.InternalError(fmt.Errorf("mark processed: %w", err))
	}
	if !isNew {
		return nil
	}

	if fresh.Status != domain.PaymentStatusCreated {
		// Lost a transition race; the transfer marker still commits so the
		// same transfer is never reconsidered.
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		return apperror.ErrInvalidTransition(string(fresh.Status), string(domain.PaymentStatusPaid))
	}

	if fresh.IsExpired(now) {
		// A late transfer never settles the record, even before any sweep.
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		s.log.Warn().
			Str("payment_id", fresh.ID.String()).
			Str("tx_hash", transfer.TxHash).
			Time("expires_at", fresh.ExpiresAt).
			Msg("transfer observed after expiry, rejected")
		return nil
	}

	target := domain.PaymentStatusPaid
	eventType := domain.EventPaymentPaid
	if fresh.PaymentType == domain.PaymentTypeEscrow {
		target = domain.PaymentStatusEscrowed
		eventType = domain.EventEscrowFunded
	}

	paidAt := &now
	if target == domain.PaymentStatusEscrowed {
		paidAt = nil
	}
	ok, err := s.payRepo.UpdateStatus(ctx, dbTx, fresh.ID, domain.PaymentStatusCreated, target, paidAt)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("settle payment: %w", err))
	}
	if !ok {
		return apperror.ErrInvalidTransition(string(fresh.Status), string(target))
	}
	if err := s.payRepo.SetCustomer(ctx, dbTx, fresh.ID, transfer.From); err != nil {
		return apperror.InternalError(fmt.Errorf("record customer: %w", err))
	}

	if target == domain.PaymentStatusPaid {
		credits := fresh.SettleSplits(now)
		if err := s.creditRepo.CreateBatch(ctx, dbTx, credits); err != nil {
			return apperror.InternalError(fmt.Errorf("create credits: %w", err))
		}
		if fresh.ReferralCode != "" {
			if err := s.accrueReferral(ctx, dbTx, fresh, now); err != nil {
				return err
			}
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	fresh.Status = target
	fresh.Customer = transfer.From
	fresh.PaidAt = paidAt
	s.emit(ctx, fresh, eventType, now)

	s.log.Info().
		Str("payment_id", fresh.ID.String()).
		Str("tx_hash", transfer.TxHash).
		Str("status", string(target)).
		Msg("transfer applied")
	return nil
}

// accrueReferral updates the referring affiliate's volume and tier.
func (s *LedgerServiceImpl) accrueReferral(ctx context.Context, dbTx pgx.Tx, record *domain.PaymentRecord, now time.Time) error {
	aff, err := s.affRepo.GetByCodeForUpdate(ctx, dbTx, record.ReferralCode)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock affiliate: %w", err))
	}
	if aff == nil {
		s.log.Warn().Str("code", record.ReferralCode).Msg("referral code vanished, skipping accrual")
		return nil
	}
	aff.RecordReferral(record.Amount, now)
	if err := s.affRepo.Update(ctx, dbTx, aff); err != nil {
		return apperror.InternalError(fmt.Errorf("update affiliate: %w", err))
	}
	return nil
}

// ExpireOverdue sweeps overdue CREATED records to EXPIRED in one batch.
func (s *LedgerServiceImpl) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.payRepo.ExpireOverdue(ctx, now, expireSweepBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("expire sweep: %w", err))
	}
	for i := range expired {
		s.emit(ctx, &expired[i], domain.EventPaymentExpired, now)
	}
	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Msg("expired overdue payments")
	}
	return len(expired), nil
}

// ListCredits returns the settlement credits for a payment.
func (s *LedgerServiceImpl) ListCredits(ctx context.Context, paymentID uuid.UUID) ([]domain.CreditEntry, error) {
	credits, err := s.creditRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list credits: %w", err))
	}
	return credits, nil
}

func (s *LedgerServiceImpl) emit(ctx context.Context, record *domain.PaymentRecord, eventType domain.WebhookEventType, now time.Time) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(ctx, domain.TransitionEvent{
		PaymentID:  record.ID,
		MerchantID: record.MerchantID,
		SessionID:  record.SessionID,
		EventType:  eventType,
		Amount:     record.Amount,
		Status:     record.Status,
		OccurredAt: now,
	})
}

// unmarshalCachedPayment deserializes a cached payment record.
func (s *LedgerServiceImpl) unmarshalCachedPayment(data []byte) (*domain.PaymentRecord, error) {
	record := &domain.PaymentRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached payment: %w", err))
	}
	return record, nil
}
