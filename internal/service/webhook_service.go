package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"
	"pylinks/pkg/fixedpoint"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const dispatchBatch = 50

// backoffSchedule spaces retries monotonically; attempts past the end reuse
// the last value.
var backoffSchedule = []time.Duration{
	15 * time.Second,
	time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPDoer is the outbound HTTP surface, swappable in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookConfig parameterizes delivery behavior.
type WebhookConfig struct {
	RetryCount int           // max delivery attempts per event
	Timeout    time.Duration // per-attempt timeout
}

// WebhookPayload is the signed body POSTed to the merchant endpoint.
type WebhookPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Timestamp int64  `json:"timestamp"`
	Data      struct {
		PaymentID string `json:"payment_id"`
		SessionID string `json:"session_id"`
		Amount    string `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// WebhookServiceImpl turns ledger transition events into signed, retried
// HTTP deliveries. It implements ports.WebhookService.
type WebhookServiceImpl struct {
	webhookRepo ports.WebhookRepository
	merchRepo   ports.MerchantRepository
	encSvc      ports.EncryptionService
	sigSvc      ports.SignatureService
	client      HTTPDoer
	cfg         WebhookConfig
	wake        chan struct{}
	log         zerolog.Logger
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(
	webhookRepo ports.WebhookRepository,
	merchRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	client HTTPDoer,
	cfg WebhookConfig,
	log zerolog.Logger,
) *WebhookServiceImpl {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookServiceImpl{
		webhookRepo: webhookRepo,
		merchRepo:   merchRepo,
		encSvc:      encSvc,
		sigSvc:      sigSvc,
		client:      client,
		cfg:         cfg,
		wake:        make(chan struct{}, 1),
		log:         log,
	}
}

// Emit persists the transition as a PENDING webhook event. Merchants without
// a configured endpoint are skipped. Persistence failures are logged, never
// propagated: delivery is best-effort relative to the ledger transition that
// already committed.
func (s *WebhookServiceImpl) Emit(ctx context.Context, ev domain.TransitionEvent) {
	merchant, err := s.merchRepo.GetByID(ctx, ev.MerchantID)
	if err != nil {
		s.log.Error().Err(err).Str("merchant_id", ev.MerchantID.String()).Msg("webhook merchant lookup failed")
		return
	}
	if merchant == nil || !merchant.HasWebhook() {
		s.log.Debug().Str("merchant_id", ev.MerchantID.String()).Msg("no webhook endpoint configured, skipping")
		return
	}

	payload := WebhookPayload{
		EventID:   uuid.NewString(),
		EventType: string(ev.EventType),
		Timestamp: ev.OccurredAt.Unix(),
	}
	payload.Data.PaymentID = ev.PaymentID.String()
	payload.Data.SessionID = ev.SessionID
	payload.Data.Amount = fixedpoint.FromFixedPoint(ev.Amount, fixedpoint.TokenPrecision)
	payload.Data.Status = string(ev.Status)

	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("webhook payload marshal failed")
		return
	}

	secret, err := s.encSvc.Decrypt(merchant.SecretKeyEnc)
	if err != nil {
		s.log.Error().Err(err).Str("merchant_id", ev.MerchantID.String()).Msg("webhook secret decrypt failed")
		return
	}

	now := time.Now().UTC()
	event := &domain.WebhookEvent{
		ID:          uuid.New(),
		PaymentID:   ev.PaymentID,
		MerchantID:  ev.MerchantID,
		EventType:   ev.EventType,
		WebhookURL:  *merchant.WebhookURL,
		Payload:     string(body),
		Signature:   s.sigSvc.Sign(secret, string(body)),
		Attempt:     0,
		Status:      domain.WebhookStatusPending,
		NextRetryAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.webhookRepo.CreateEvent(ctx, event); err != nil {
		s.log.Error().Err(err).Str("payment_id", ev.PaymentID.String()).Msg("webhook event persist failed")
		return
	}

	// Nudge the dispatch loop without blocking the ledger.
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// DispatchDue delivers all due events once. Each failure reschedules the
// event on the backoff schedule until the attempt budget is spent.
func (s *WebhookServiceImpl) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.webhookRepo.ListDue(ctx, now, dispatchBatch)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list due webhooks: %w", err))
	}

	for i := range due {
		s.deliver(ctx, &due[i])
	}
	return len(due), nil
}

// ListDeliveries returns the delivery history for a payment.
func (s *WebhookServiceImpl) ListDeliveries(ctx context.Context, paymentID uuid.UUID) ([]domain.WebhookEvent, error) {
	events, err := s.webhookRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list webhook events: %w", err))
	}
	return events, nil
}

// Redeliver retries one event immediately. Delivered events are not resent,
// and an event whose attempt budget is already spent stays permanently
// failed; the merchant's recourse there is fixing the endpoint and waiting
// for the next transition.
func (s *WebhookServiceImpl) Redeliver(ctx context.Context, paymentID, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	event, err := s.webhookRepo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get webhook event: %w", err))
	}
	if event == nil || event.PaymentID != paymentID {
		return nil, apperror.ErrNotFound("webhook event")
	}

	switch event.Status {
	case domain.WebhookStatusDelivered:
		return nil, apperror.ErrInvalidState("webhook event already delivered")
	case domain.WebhookStatusPermanentlyFailed:
		return nil, apperror.ErrWebhookPermanentlyFailed()
	}

	s.deliver(ctx, event)
	if event.Status != domain.WebhookStatusDelivered {
		msg := "delivery attempt failed"
		if event.LastError != nil {
			msg = *event.LastError
		}
		return nil, apperror.ErrWebhookDeliveryFailed(fmt.Errorf("%s", msg))
	}
	return event, nil
}

// Run drives periodic dispatch until ctx is cancelled. Emit wakes it early
// so fresh events go out without waiting a full interval.
func (s *WebhookServiceImpl) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("webhook dispatcher started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("webhook dispatcher stopped")
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if _, err := s.DispatchDue(ctx, time.Now().UTC()); err != nil {
			s.log.Error().Err(err).Msg("webhook dispatch pass failed")
		}
	}
}

// deliver performs one attempt and persists the outcome.
func (s *WebhookServiceImpl) deliver(ctx context.Context, event *domain.WebhookEvent) {
	now := time.Now().UTC()
	event.Attempt++
	event.UpdatedAt = now

	status, err := s.post(ctx, event)
	if status > 0 {
		event.HTTPStatus = &status
	}

	switch {
	case err == nil && status >= 200 && status < 300:
		event.Status = domain.WebhookStatusDelivered
		event.DeliveredAt = &now
		event.NextRetryAt = nil
		event.LastError = nil
		s.log.Info().
			Str("event_id", event.ID.String()).
			Str("event_type", string(event.EventType)).
			Int("attempt", event.Attempt).
			Msg("webhook delivered")
	default:
		msg := fmt.Sprintf("http status %d", status)
		if err != nil {
			msg = err.Error()
		}
		event.LastError = &msg

		if event.Attempt >= s.cfg.RetryCount {
			event.Status = domain.WebhookStatusPermanentlyFailed
			event.NextRetryAt = nil
			s.log.Warn().
				Str("event_id", event.ID.String()).
				Str("url", event.WebhookURL).
				Int("attempt", event.Attempt).
				Str("error", msg).
				Msg("webhook permanently failed")
		} else {
			next := now.Add(backoffFor(event.Attempt))
			event.Status = domain.WebhookStatusFailed
			event.NextRetryAt = &next
			s.log.Debug().
				Str("event_id", event.ID.String()).
				Int("attempt", event.Attempt).
				Time("next_retry_at", next).
				Msg("webhook attempt failed, rescheduled")
		}
	}

	if err := s.webhookRepo.Update(ctx, event); err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("webhook bookkeeping update failed")
	}
}

// post sends one signed POST; the context caps it at the per-attempt timeout.
func (s *WebhookServiceImpl) post(ctx context.Context, event *domain.WebhookEvent) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, event.WebhookURL, bytes.NewReader([]byte(event.Payload)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PyLinks-Signature", event.Signature)
	req.Header.Set("X-PyLinks-Event", string(event.EventType))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// backoffFor returns the delay before the next attempt after attempt n
// (1-based) failed.
func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}
