package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Merchant Repo ---

type inMemoryMerchantRepo struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*domain.Merchant
}

func newInMemoryMerchantRepo() *inMemoryMerchantRepo {
	return &inMemoryMerchantRepo{merchants: make(map[uuid.UUID]*domain.Merchant)}
}

func (r *inMemoryMerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merchants {
		if existing.Username == m.Username {
			return fmt.Errorf("username already exists")
		}
	}
	cp := *m
	r.merchants[m.ID] = &cp
	return nil
}

func (r *inMemoryMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *inMemoryMerchantRepo) GetByAccessKey(ctx context.Context, accessKey string) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.merchants {
		if m.AccessKey == accessKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryMerchantRepo) GetByUsername(ctx context.Context, username string) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.merchants {
		if m.Username == username {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryMerchantRepo) Update(ctx context.Context, m *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.merchants[m.ID]; !ok {
		return fmt.Errorf("merchant not found")
	}
	cp := *m
	r.merchants[m.ID] = &cp
	return nil
}

// --- In-Memory Payment Repo ---

type inMemoryPaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.PaymentRecord
}

func newInMemoryPaymentRepo() *inMemoryPaymentRepo {
	return &inMemoryPaymentRepo{payments: make(map[uuid.UUID]*domain.PaymentRecord)}
}

func (r *inMemoryPaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *inMemoryPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *inMemoryPaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryPaymentRepo) GetBySession(ctx context.Context, merchantID uuid.UUID, sessionID string) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.PaymentRecord
	for _, p := range r.payments {
		if p.MerchantID == merchantID && p.SessionID == sessionID {
			if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *inMemoryPaymentRepo) GetByReference(ctx context.Context, reference string) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var oldest *domain.PaymentRecord
	for _, p := range r.payments {
		if p.SessionID == reference && p.Status == domain.PaymentStatusCreated {
			if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
				oldest = p
			}
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (r *inMemoryPaymentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.PaymentStatus, paidAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	return true, nil
}

func (r *inMemoryPaymentRepo) SetCustomer(ctx context.Context, tx pgx.Tx, id uuid.UUID, customer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return fmt.Errorf("payment not found")
	}
	p.Customer = customer
	return nil
}

func (r *inMemoryPaymentRepo) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.PaymentRecord
	for _, p := range r.payments {
		if len(expired) >= limit {
			break
		}
		if p.Status == domain.PaymentStatusCreated && now.After(p.ExpiresAt) {
			p.Status = domain.PaymentStatusExpired
			expired = append(expired, *p)
		}
	}
	return expired, nil
}

func (r *inMemoryPaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.PaymentRecord, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.PaymentRecord
	for _, p := range r.payments {
		if p.MerchantID != params.MerchantID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.Type != nil && p.PaymentType != *params.Type {
			continue
		}
		if params.From != nil && p.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && p.CreatedAt.Unix() > *params.To {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.PaymentRecord{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryPaymentRepo) GetStats(ctx context.Context, merchantID uuid.UUID, periodStart *int64) (*ports.PaymentStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.PaymentStats{}
	for _, p := range r.payments {
		if p.MerchantID != merchantID {
			continue
		}
		if periodStart != nil && p.CreatedAt.Unix() < *periodStart {
			continue
		}
		stats.TotalPayments++
		switch p.Status {
		case domain.PaymentStatusPaid:
			stats.Paid++
			stats.TotalVolume += p.Amount
		case domain.PaymentStatusExpired:
			stats.Expired++
		case domain.PaymentStatusRefunded:
			stats.Refunded++
			stats.TotalRefunded += p.Amount
		case domain.PaymentStatusCancelled:
			stats.Cancelled++
		case domain.PaymentStatusEscrowed:
			stats.InEscrow++
		case domain.PaymentStatusDisputed:
			stats.Disputed++
		}
	}
	return stats, nil
}

// --- In-Memory Credit Repo ---

type inMemoryCreditRepo struct {
	mu      sync.RWMutex
	credits map[uuid.UUID][]domain.CreditEntry
}

func newInMemoryCreditRepo() *inMemoryCreditRepo {
	return &inMemoryCreditRepo{credits: make(map[uuid.UUID][]domain.CreditEntry)}
}

func (r *inMemoryCreditRepo) CreateBatch(ctx context.Context, tx pgx.Tx, entries []domain.CreditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.credits[e.PaymentID] = append(r.credits[e.PaymentID], e)
	}
	return nil
}

func (r *inMemoryCreditRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.CreditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CreditEntry, len(r.credits[paymentID]))
	copy(out, r.credits[paymentID])
	return out, nil
}

// --- In-Memory Escrow Repo ---

type inMemoryEscrowRepo struct {
	mu      sync.RWMutex
	escrows map[uuid.UUID]*domain.EscrowRecord
	pay     *inMemoryPaymentRepo
}

func newInMemoryEscrowRepo(pay *inMemoryPaymentRepo) *inMemoryEscrowRepo {
	return &inMemoryEscrowRepo{escrows: make(map[uuid.UUID]*domain.EscrowRecord), pay: pay}
}

func (r *inMemoryEscrowRepo) CreateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	// Only the hash is persisted, as in the SQL adapter.
	cp.ClaimToken = ""
	r.escrows[e.ID] = &cp
	return nil
}

// GetByPaymentID joins the escrow extension with the live payment row, the
// same shape the SQL adapter produces with its JOIN.
func (r *inMemoryEscrowRepo) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.EscrowRecord, error) {
	r.mu.RLock()
	e, ok := r.escrows[paymentID]
	if !ok {
		r.mu.RUnlock()
		return nil, nil
	}
	cp := *e
	r.mu.RUnlock()

	p, err := r.pay.GetByID(ctx, paymentID)
	if err != nil || p == nil {
		return nil, err
	}
	cp.PaymentRecord = *p
	return &cp, nil
}

func (r *inMemoryEscrowRepo) UpdateDetails(ctx context.Context, tx pgx.Tx, e *domain.EscrowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.escrows[e.ID]
	if !ok {
		return fmt.Errorf("escrow not found")
	}
	stored.AutoRelease = e.AutoRelease
	stored.Disputed = e.Disputed
	stored.ResolvedBy = e.ResolvedBy
	stored.ReleasedAt = e.ReleasedAt
	return nil
}

func (r *inMemoryEscrowRepo) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]domain.EscrowRecord, error) {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.escrows))
	for id := range r.escrows {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var due []domain.EscrowRecord
	for _, id := range ids {
		if len(due) >= limit {
			break
		}
		e, err := r.GetByPaymentID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil && e.CanAutoRelease(now) {
			due = append(due, *e)
		}
	}
	return due, nil
}

// --- In-Memory Transfer Repo ---

type inMemoryTransferRepo struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newInMemoryTransferRepo() *inMemoryTransferRepo {
	return &inMemoryTransferRepo{processed: make(map[string]bool)}
}

func transferKey(txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

func (r *inMemoryTransferRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, t *domain.ProcessedTransfer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := transferKey(t.TxHash, t.LogIndex)
	if r.processed[key] {
		return false, nil
	}
	r.processed[key] = true
	return true, nil
}

func (r *inMemoryTransferRepo) IsProcessed(ctx context.Context, txHash string, logIndex uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[transferKey(txHash, logIndex)], nil
}

// --- In-Memory Webhook Repo ---

type inMemoryWebhookRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*domain.WebhookEvent
}

func newInMemoryWebhookRepo() *inMemoryWebhookRepo {
	return &inMemoryWebhookRepo{events: make(map[uuid.UUID]*domain.WebhookEvent)}
}

func (r *inMemoryWebhookRepo) CreateEvent(ctx context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events[e.ID] = &cp
	return nil
}

func (r *inMemoryWebhookRepo) Update(ctx context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return fmt.Errorf("webhook event not found")
	}
	cp := *e
	r.events[e.ID] = &cp
	return nil
}

func (r *inMemoryWebhookRepo) GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryWebhookRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.WebhookEvent
	for _, e := range r.events {
		if len(due) >= limit {
			break
		}
		if e.Status != domain.WebhookStatusPending && e.Status != domain.WebhookStatusFailed {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *e)
	}
	return due, nil
}

func (r *inMemoryWebhookRepo) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEvent
	for _, e := range r.events {
		if e.PaymentID == paymentID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- In-Memory Affiliate Repo ---

type inMemoryAffiliateRepo struct {
	mu         sync.RWMutex
	affiliates map[uuid.UUID]*domain.Affiliate
}

func newInMemoryAffiliateRepo() *inMemoryAffiliateRepo {
	return &inMemoryAffiliateRepo{affiliates: make(map[uuid.UUID]*domain.Affiliate)}
}

func (r *inMemoryAffiliateRepo) Create(ctx context.Context, a *domain.Affiliate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.affiliates[a.ID] = &cp
	return nil
}

func (r *inMemoryAffiliateRepo) GetByWallet(ctx context.Context, wallet string) (*domain.Affiliate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.affiliates {
		if a.Wallet == wallet {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryAffiliateRepo) GetByCode(ctx context.Context, code string) (*domain.Affiliate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.affiliates {
		if a.ReferralCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryAffiliateRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*domain.Affiliate, error) {
	return r.GetByCode(ctx, code)
}

func (r *inMemoryAffiliateRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.Affiliate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.affiliates[a.ID]; !ok {
		return fmt.Errorf("affiliate not found")
	}
	cp := *a
	r.affiliates[a.ID] = &cp
	return nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
