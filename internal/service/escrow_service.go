package service

import (
	"context"
	"errors"
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

const autoReleaseBatch = 50

// EscrowConfig parameterizes the escrow hold behavior.
type EscrowConfig struct {
	SessionExpiry time.Duration // funding window for the escrow payment
	HoldWindow    time.Duration // fixed escrow window from creation
	ArbiterWallet string        // identity recorded on arbitrated outcomes
}

// EscrowServiceImpl implements ports.EscrowService.
type EscrowServiceImpl struct {
	payRepo    ports.PaymentRepository
	escrowRepo ports.EscrowRepository
	creditRepo ports.CreditRepository
	merchRepo  ports.MerchantRepository
	transactor ports.DBTransactor
	oracle     ports.PriceOracle
	sink       ports.TransitionSink
	cfg        EscrowConfig
	log        zerolog.Logger
}

// NewEscrowService creates a new EscrowServiceImpl.
func NewEscrowService(
	payRepo ports.PaymentRepository,
	escrowRepo ports.EscrowRepository,
	creditRepo ports.CreditRepository,
	merchRepo ports.MerchantRepository,
	transactor ports.DBTransactor,
	oracle ports.PriceOracle,
	sink ports.TransitionSink,
	cfg EscrowConfig,
	log zerolog.Logger,
) *EscrowServiceImpl {
	return &EscrowServiceImpl{
		payRepo:    payRepo,
		escrowRepo: escrowRepo,
		creditRepo: creditRepo,
		merchRepo:  merchRepo,
		transactor: transactor,
		oracle:     oracle,
		sink:       sink,
		cfg:        cfg,
		log:        log,
	}
}

// CreateEscrowPayment quotes the USD amount against the current oracle price
// and creates the payment row plus its escrow extension atomically. The price
// is captured exactly once here; later lifecycle steps reuse the stored quote.
func (s *EscrowServiceImpl) CreateEscrowPayment(ctx context.Context, req ports.CreateEscrowRequest) (*domain.EscrowRecord, error) {
	usd, err := fixedpoint.ToFixedPoint(req.USDAmount, fixedpoint.USDPrecision)
	if err != nil {
		return nil, apperror.ErrInvalidAmount(err.Error())
	}
	if usd <= 0 {
		return nil, apperror.ErrInvalidAmount("usd_amount must be positive")
	}
	if req.SessionID == "" || len(req.SessionID) > maxSessionIDLen {
		return nil, apperror.Validation("session_id must be 1-100 characters")
	}
	if len(req.Description) > domain.MaxDescriptionLen {
		return nil, apperror.Validation("description too long")
	}

	merchant, err := s.merchRepo.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("merchant lookup: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}

	existing, err := s.payRepo.GetBySession(ctx, req.MerchantID, req.SessionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("session lookup: %w", err))
	}
	if existing != nil {
		replay, err := s.escrowRepo.GetByPaymentID(ctx, existing.ID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("escrow lookup: %w", err))
		}
		if replay == nil {
			return nil, apperror.ErrDuplicateSession(req.SessionID)
		}
		return replay, nil
	}

	// Network read happens before any lock is taken.
	price, err := s.oracle.TokenPriceUSD(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("price oracle unavailable")
		return nil, apperror.ErrPriceUnavailable(err)
	}

	amount, err := domain.ConvertUSDToToken(usd, price)
	if err != nil {
		if errors.Is(err, domain.ErrPriceNonPositive) || errors.Is(err, domain.ErrUSDAmountNonPositive) {
			return nil, apperror.ErrPriceUnavailable(err)
		}
		return nil, apperror.ErrInvalidAmount(err.Error())
	}

	// The claim token is returned exactly once, on this response. Only its
	// hash survives; session replays cannot recover it.
	claimToken, err := generateKey("esct_", 24)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate claim token: %w", err))
	}

	now := time.Now().UTC()
	record := &domain.EscrowRecord{
		PaymentRecord: domain.PaymentRecord{
			ID:          uuid.New(),
			MerchantID:  req.MerchantID,
			Merchant:    merchant.WalletAddress,
			Customer:    req.Customer,
			Amount:      amount,
			SessionID:   req.SessionID,
			Description: req.Description,
			PaymentType: domain.PaymentTypeEscrow,
			Status:      domain.PaymentStatusCreated,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.SessionExpiry),
		},
		USDAmount:      usd,
		PriceUSD:       price,
		HoldUntil:      now.Add(s.cfg.HoldWindow),
		AutoRelease:    req.AutoRelease,
		ClaimToken:     claimToken,
		ClaimTokenHash: domain.HashClaimToken(claimToken),
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.payRepo.Create(ctx, dbTx, &record.PaymentRecord); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create payment: %w", err))
	}
	if err := s.escrowRepo.CreateDetails(ctx, dbTx, record); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create escrow details: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("payment_id", record.ID.String()).
		Int64("usd_amount", usd).
		Int64("price_usd", price).
		Int64("amount", amount).
		Msg("escrow payment created")

	return record, nil
}

// GetEscrow returns an escrow record by its payment ID.
func (s *EscrowServiceImpl) GetEscrow(ctx context.Context, paymentID uuid.UUID) (*domain.EscrowRecord, error) {
	record, err := s.escrowRepo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get escrow: %w", err))
	}
	if record == nil {
		return nil, apperror.ErrNotFound("escrow")
	}
	return record, nil
}

// Release settles escrowed funds to the merchant. Only the holder of the
// claim token minted at creation may call it, and never while a dispute is
// open.
func (s *EscrowServiceImpl) Release(ctx context.Context, paymentID uuid.UUID, claimToken string) (*domain.EscrowRecord, error) {
	return s.withLockedEscrow(ctx, paymentID, func(dbTx pgx.Tx, record *domain.EscrowRecord, now time.Time) (domain.WebhookEventType, error) {
		if !record.ClaimTokenValid(claimToken) {
			return "", apperror.ErrNotFound("escrow")
		}
		if record.Disputed {
			return "", apperror.ErrDisputeUnresolved()
		}
		if !record.CanRelease() {
			return "", apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusPaid))
		}
		if err := s.release(ctx, dbTx, record, domain.PaymentStatusEscrowed, now); err != nil {
			return "", err
		}
		return domain.EventEscrowReleased, nil
	})
}

// Dispute freezes an escrow. Either party may raise it: the escrow's own
// merchant proves itself through the authenticated merchant identity, the
// customer through the claim token. Disputes are accepted only from ESCROWED
// and only while the hold window is open; a raised dispute permanently
// suspends auto-release for the record.
func (s *EscrowServiceImpl) Dispute(ctx context.Context, paymentID uuid.UUID, merchantID uuid.UUID, claimToken string) (*domain.EscrowRecord, error) {
	return s.withLockedEscrow(ctx, paymentID, func(dbTx pgx.Tx, record *domain.EscrowRecord, now time.Time) (domain.WebhookEventType, error) {
		ownMerchant := merchantID != uuid.Nil && merchantID == record.MerchantID
		if !ownMerchant && !record.ClaimTokenValid(claimToken) {
			return "", apperror.ErrNotFound("escrow")
		}
		if record.Disputed {
			return "", apperror.ErrInvalidState("escrow is already disputed")
		}
		if record.Status != domain.PaymentStatusEscrowed {
			return "", apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusDisputed))
		}
		if !now.Before(record.HoldUntil) {
			return "", apperror.ErrDisputeWindowClosed()
		}

		ok, err := s.payRepo.UpdateStatus(ctx, dbTx, record.ID, domain.PaymentStatusEscrowed, domain.PaymentStatusDisputed, nil)
		if err != nil {
			return "", apperror.InternalError(fmt.Errorf("dispute escrow: %w", err))
		}
		if !ok {
			return "", apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusDisputed))
		}
		record.Status = domain.PaymentStatusDisputed
		record.Disputed = true
		if err := s.escrowRepo.UpdateDetails(ctx, dbTx, record); err != nil {
			return "", apperror.InternalError(fmt.Errorf("update escrow details: %w", err))
		}
		return domain.EventEscrowDisputed, nil
	})
}

// Resolve settles a disputed escrow with an arbitration outcome that either
// pays the merchant out or refunds the customer. The caller is already
// authenticated as the arbiter by the transport layer; the configured arbiter
// wallet is recorded on the outcome.
func (s *EscrowServiceImpl) Resolve(ctx context.Context, paymentID uuid.UUID, outcome domain.DisputeOutcome) (*domain.EscrowRecord, error) {
	if outcome != domain.DisputeOutcomeRelease && outcome != domain.DisputeOutcomeRefund {
		return nil, apperror.Validation("outcome must be RELEASE or REFUND")
	}

	return s.withLockedEscrow(ctx, paymentID, func(dbTx pgx.Tx, record *domain.EscrowRecord, now time.Time) (domain.WebhookEventType, error) {
		if !record.CanResolve() {
			return "", apperror.ErrInvalidState(fmt.Sprintf("escrow is not disputed, current %s", record.Status))
		}

		arbiter := s.cfg.ArbiterWallet
		record.ResolvedBy = &arbiter
		if outcome == domain.DisputeOutcomeRelease {
			if err := s.release(ctx, dbTx, record, domain.PaymentStatusDisputed, now); err != nil {
				return "", err
			}
		} else {
			ok, err := s.payRepo.UpdateStatus(ctx, dbTx, record.ID, domain.PaymentStatusDisputed, domain.PaymentStatusRefunded, nil)
			if err != nil {
				return "", apperror.InternalError(fmt.Errorf("refund escrow: %w", err))
			}
			if !ok {
				return "", apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusRefunded))
			}
			record.Status = domain.PaymentStatusRefunded
			if err := s.escrowRepo.UpdateDetails(ctx, dbTx, record); err != nil {
				return "", apperror.InternalError(fmt.Errorf("update escrow details: %w", err))
			}
		}
		return domain.EventEscrowResolved, nil
	})
}

// AutoReleaseDue releases escrows whose hold window elapsed undisputed.
// Each record commits in its own transaction; losing a race to a concurrent
// dispute just skips the record.
func (s *EscrowServiceImpl) AutoReleaseDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.escrowRepo.ListAutoReleasable(ctx, now, autoReleaseBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list auto-releasable: %w", err))
	}

	released := 0
	for i := range due {
		_, err := s.withLockedEscrow(ctx, due[i].ID, func(dbTx pgx.Tx, record *domain.EscrowRecord, now time.Time) (domain.WebhookEventType, error) {
			if !record.CanAutoRelease(now) {
				return "", apperror.ErrInvalidState("no longer auto-releasable")
			}
			if err := s.release(ctx, dbTx, record, domain.PaymentStatusEscrowed, now); err != nil {
				return "", err
			}
			return domain.EventEscrowReleased, nil
		})
		if err != nil {
			s.log.Debug().Err(err).Str("payment_id", due[i].ID.String()).Msg("auto-release skipped")
			continue
		}
		released++
	}

	if released > 0 {
		s.log.Info().Int("count", released).Msg("auto-released escrows")
	}
	return released, nil
}

// release performs the shared PAID transition: flips status, stamps the
// release time, and writes the settlement credits.
func (s *EscrowServiceImpl) release(ctx context.Context, dbTx pgx.Tx, record *domain.EscrowRecord, from domain.PaymentStatus, now time.Time) error {
	ok, err := s.payRepo.UpdateStatus(ctx, dbTx, record.ID, from, domain.PaymentStatusPaid, &now)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("release escrow: %w", err))
	}
	if !ok {
		return apperror.ErrInvalidTransition(string(record.Status), string(domain.PaymentStatusPaid))
	}
	record.Status = domain.PaymentStatusPaid
	record.PaidAt = &now
	record.ReleasedAt = &now
	if err := s.escrowRepo.UpdateDetails(ctx, dbTx, record); err != nil {
		return apperror.InternalError(fmt.Errorf("update escrow details: %w", err))
	}

	credits := record.SettleSplits(now)
	if err := s.creditRepo.CreateBatch(ctx, dbTx, credits); err != nil {
		return apperror.InternalError(fmt.Errorf("create credits: %w", err))
	}
	return nil
}

// withLockedEscrow runs fn against the row-locked escrow record inside one
// transaction, then emits the transition event after commit.
func (s *EscrowServiceImpl) withLockedEscrow(
	ctx context.Context,
	paymentID uuid.UUID,
	fn func(dbTx pgx.Tx, record *domain.EscrowRecord, now time.Time) (domain.WebhookEventType, error),
) (*domain.EscrowRecord, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.payRepo.GetByIDForUpdate(ctx, dbTx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock payment: %w", err))
	}
	if locked == nil {
		return nil, apperror.ErrNotFound("escrow")
	}
	record, err := s.escrowRepo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get escrow: %w", err))
	}
	if record == nil {
		return nil, apperror.ErrNotFound("escrow")
	}
	// The locked payment row is the source of truth for status.
	record.PaymentRecord = *locked

	now := time.Now().UTC()
	eventType, err := fn(dbTx, record, now)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if s.sink != nil {
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

	s.log.Info().
		Str("payment_id", record.ID.String()).
		Str("event", string(eventType)).
		Str("status", string(record.Status)).
		Msg("escrow transition")
	return record, nil
}
