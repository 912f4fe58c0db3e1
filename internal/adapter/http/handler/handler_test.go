package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pylinks/internal/adapter/http/dto"
	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/internal/core/ports/mocks"
	"pylinks/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Auth Handler Tests ---

func TestRegister_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	merchantID := uuid.New()
	mockAuth.EXPECT().Register(gomock.Any(), ports.RegisterRequest{
		Username:      "testuser",
		Password:      "password123",
		MerchantName:  "Test Shop",
		WalletAddress: "0xAbC1230000000000000000000000000000000001",
	}).Return(&ports.RegisterResponse{
		MerchantID: merchantID,
		AccessKey:  "ak_test",
		SecretKey:  "sk_test",
	}, nil)

	body, _ := json.Marshal(dto.RegisterRequest{
		Username:      "testuser",
		Password:      "password123",
		MerchantName:  "Test Shop",
		WalletAddress: "0xAbC1230000000000000000000000000000000001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, merchantID.String(), data["merchant_id"])
	assert.Equal(t, "ak_test", data["access_key"])
	assert.Equal(t, "sk_test", data["secret_key"])
}

func TestRegister_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	// Empty body => binding error
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte("{}")))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_ServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrUsernameExists())

	body, _ := json.Marshal(dto.RegisterRequest{
		Username:      "taken",
		Password:      "password123",
		MerchantName:  "Shop",
		WalletAddress: "0xAbC1230000000000000000000000000000000001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	expiry := time.Now().Add(24 * time.Hour)
	mockAuth.EXPECT().Login(gomock.Any(), "testuser", "password123").Return("jwt-token-123", expiry, nil)

	body, _ := json.Marshal(dto.LoginRequest{
		Username: "testuser",
		Password: "password123",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Login(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "jwt-token-123", data["token"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	mockAuth.EXPECT().Login(gomock.Any(), "bad", "bad").Return("", time.Time{}, apperror.ErrInvalidCredentials())

	body, _ := json.Marshal(dto.LoginRequest{
		Username: "bad",
		Password: "bad",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Payment Handler Tests ---

func testPaymentRecord(merchantID uuid.UUID) *domain.PaymentRecord {
	now := time.Now()
	return &domain.PaymentRecord{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		Merchant:    "0xAbC1230000000000000000000000000000000001",
		Amount:      25_000_000,
		SessionID:   "sess-001",
		PaymentType: domain.PaymentTypeRegular,
		Status:      domain.PaymentStatusCreated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * time.Minute),
	}
}

func TestCreatePayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	merchantID := uuid.New()
	record := testPaymentRecord(merchantID)

	mockLedger.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, req ports.CreatePaymentRequest) (*domain.PaymentRecord, error) {
			assert.Equal(t, merchantID, req.MerchantID)
			assert.Equal(t, "25.000000", req.Amount)
			assert.Equal(t, "sess-001", req.SessionID)
			assert.Equal(t, domain.PaymentTypeRegular, req.PaymentType)
			return record, nil
		},
	)

	body, _ := json.Marshal(dto.CreatePaymentRequest{
		Amount:    "25.000000",
		SessionID: "sess-001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("merchant_id", merchantID)

	h.CreatePayment(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, record.ID.String(), data["id"])
	assert.Equal(t, "25.000000", data["amount"])
	assert.Equal(t, "CREATED", data["status"])
}

func TestCreatePayment_MissingMerchantID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	h.CreatePayment(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePayment_BadAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	body, _ := json.Marshal(dto.CreatePaymentRequest{
		Amount:    "not-a-number",
		SessionID: "sess-001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("merchant_id", uuid.New())

	h.CreatePayment(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePayment_DuplicateSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	mockLedger.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrDuplicateSession("sess-001"))

	body, _ := json.Marshal(dto.CreatePaymentRequest{
		Amount:    "25.000000",
		SessionID: "sess-001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("merchant_id", uuid.New())

	h.CreatePayment(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetPayment_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	h.GetPayment(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	merchantID := uuid.New()
	record := testPaymentRecord(merchantID)
	record.Status = domain.PaymentStatusCancelled

	mockLedger.EXPECT().CancelPayment(gomock.Any(), merchantID, record.ID).Return(record, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: record.ID.String()}}
	c.Set("merchant_id", merchantID)

	h.CancelPayment(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "CANCELLED", data["status"])
}

func TestRefundPayment_WindowClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	merchantID := uuid.New()
	id := uuid.New()
	mockLedger.EXPECT().RefundPayment(gomock.Any(), merchantID, id).Return(nil, apperror.ErrRefundWindowClosed())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	c.Set("merchant_id", merchantID)

	h.RefundPayment(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListCredits_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewPaymentHandler(mockLedger, nil)

	paymentID := uuid.New()
	mockLedger.EXPECT().ListCredits(gomock.Any(), paymentID).Return([]domain.CreditEntry{
		{
			ID:        uuid.New(),
			PaymentID: paymentID,
			Recipient: "0xAbC1230000000000000000000000000000000001",
			Amount:    22_500_000,
			CreatedAt: time.Now(),
		},
		{
			ID:        uuid.New(),
			PaymentID: paymentID,
			Recipient: "0xDeF4560000000000000000000000000000000002",
			Amount:    2_500_000,
			CreatedAt: time.Now(),
		},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: paymentID.String()}}

	h.ListCredits(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	items := resp["data"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "22.500000", first["amount"])
}

func TestRedeliverWebhook_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWebhook := mocks.NewMockWebhookService(ctrl)
	h := NewPaymentHandler(nil, mockWebhook)

	paymentID := uuid.New()
	now := time.Now().UTC()
	event := &domain.WebhookEvent{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		EventType:   domain.EventPaymentPaid,
		Status:      domain.WebhookStatusDelivered,
		Attempt:     2,
		DeliveredAt: &now,
		CreatedAt:   now,
	}
	mockWebhook.EXPECT().Redeliver(gomock.Any(), paymentID, event.ID).Return(event, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{
		{Key: "id", Value: paymentID.String()},
		{Key: "event_id", Value: event.ID.String()},
	}

	h.RedeliverWebhook(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "DELIVERED", data["status"])
}

func TestRedeliverWebhook_SpentBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWebhook := mocks.NewMockWebhookService(ctrl)
	h := NewPaymentHandler(nil, mockWebhook)

	paymentID := uuid.New()
	eventID := uuid.New()
	mockWebhook.EXPECT().Redeliver(gomock.Any(), paymentID, eventID).
		Return(nil, apperror.ErrWebhookPermanentlyFailed())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{
		{Key: "id", Value: paymentID.String()},
		{Key: "event_id", Value: eventID.String()},
	}

	h.RedeliverWebhook(c)

	assert.Equal(t, http.StatusGone, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "WHK_002", resp["error_code"])
}

// --- Escrow Handler Tests ---

func testEscrowRecord(merchantID uuid.UUID) *domain.EscrowRecord {
	p := testPaymentRecord(merchantID)
	p.PaymentType = domain.PaymentTypeEscrow
	p.Status = domain.PaymentStatusEscrowed
	return &domain.EscrowRecord{
		PaymentRecord: *p,
		USDAmount:     25_00000000,
		PriceUSD:      1_00000000,
		HoldUntil:     time.Now().Add(7 * 24 * time.Hour),
		AutoRelease:   true,
	}
}

func TestCreateEscrow_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	merchantID := uuid.New()
	record := testEscrowRecord(merchantID)
	record.Status = domain.PaymentStatusCreated
	record.ClaimToken = "esct_abc123"

	mockEscrow.EXPECT().CreateEscrowPayment(gomock.Any(), ports.CreateEscrowRequest{
		MerchantID:  merchantID,
		Customer:    "0xCu51000000000000000000000000000000000003",
		USDAmount:   "25.00",
		SessionID:   "esc-001",
		AutoRelease: true,
	}).Return(record, nil)

	body, _ := json.Marshal(dto.CreateEscrowRequest{
		USDAmount:   "25.00",
		Customer:    "0xCu51000000000000000000000000000000000003",
		SessionID:   "esc-001",
		AutoRelease: true,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("merchant_id", merchantID)

	h.CreateEscrow(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "25.00000000", data["usd_amount"])
	assert.Equal(t, true, data["auto_release"])
	// The claim token is handed out exactly once, on creation.
	assert.Equal(t, "esct_abc123", data["claim_token"])
}

func TestCreateEscrow_PriceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	mockEscrow.EXPECT().CreateEscrowPayment(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrPriceUnavailable(errors.New("oracle timeout")))

	body, _ := json.Marshal(dto.CreateEscrowRequest{
		USDAmount: "25.00",
		Customer:  "0xCu51000000000000000000000000000000000003",
		SessionID: "esc-001",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("merchant_id", uuid.New())

	h.CreateEscrow(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReleaseEscrow_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	merchantID := uuid.New()
	record := testEscrowRecord(merchantID)
	record.Status = domain.PaymentStatusPaid
	released := time.Now()
	record.ReleasedAt = &released

	mockEscrow.EXPECT().Release(gomock.Any(), record.ID, "esct_abc123").Return(record, nil)

	body, _ := json.Marshal(dto.ReleaseEscrowRequest{ClaimToken: "esct_abc123"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: record.ID.String()}}

	h.Release(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "PAID", data["status"])
	assert.NotNil(t, data["released_at"])
	// Reads after creation never echo the token back.
	assert.NotContains(t, data, "claim_token")
}

func TestReleaseEscrow_TokenRequired(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	// No claim token, no service call.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{}`)))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: uuid.New().String()}}

	h.Release(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeEscrow_WindowClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	id := uuid.New()
	merchantID := uuid.New()
	mockEscrow.EXPECT().Dispute(gomock.Any(), id, merchantID, "esct_abc123").
		Return(nil, apperror.ErrDisputeWindowClosed())

	body, _ := json.Marshal(dto.DisputeEscrowRequest{ClaimToken: "esct_abc123"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	c.Set("merchant_id", merchantID)

	h.Dispute(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDisputeEscrow_EmptyBodyUsesMerchantIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	merchantID := uuid.New()
	record := testEscrowRecord(merchantID)
	record.Status = domain.PaymentStatusDisputed
	record.Disputed = true

	mockEscrow.EXPECT().Dispute(gomock.Any(), record.ID, merchantID, "").Return(record, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: record.ID.String()}}
	c.Set("merchant_id", merchantID)

	h.Dispute(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveEscrow_RefundOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockEscrow := mocks.NewMockEscrowService(ctrl)
	h := NewEscrowHandler(mockEscrow)

	merchantID := uuid.New()
	record := testEscrowRecord(merchantID)
	record.Status = domain.PaymentStatusRefunded
	arbiter := "0xARBITER"
	record.ResolvedBy = &arbiter

	mockEscrow.EXPECT().Resolve(gomock.Any(), record.ID, domain.DisputeOutcomeRefund).Return(record, nil)

	body, _ := json.Marshal(dto.ResolveEscrowRequest{Outcome: "REFUND"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: record.ID.String()}}

	h.Resolve(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "REFUNDED", data["status"])
	assert.Equal(t, arbiter, data["resolved_by"])
}

// --- Affiliate Handler Tests ---

func TestRegisterAffiliate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAffiliate := mocks.NewMockAffiliateService(ctrl)
	h := NewAffiliateHandler(mockAffiliate)

	mockAffiliate.EXPECT().Register(gomock.Any(), "Partner One", "0xAff1000000000000000000000000000000000004").
		Return(&domain.Affiliate{
			ID:           uuid.New(),
			Name:         "Partner One",
			Wallet:       "0xAff1000000000000000000000000000000000004",
			ReferralCode: "a1b2c3d4",
			Tier:         domain.TierBronze,
		}, nil)

	body, _ := json.Marshal(dto.RegisterAffiliateRequest{
		Name:   "Partner One",
		Wallet: "0xAff1000000000000000000000000000000000004",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "a1b2c3d4", data["referral_code"])
	assert.Equal(t, "BRONZE", data["tier"])
}

func TestGetAffiliate_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAffiliate := mocks.NewMockAffiliateService(ctrl)
	h := NewAffiliateHandler(mockAffiliate)

	mockAffiliate.EXPECT().GetByWallet(gomock.Any(), "0xUnknown").Return(nil, apperror.ErrNotFound("affiliate"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "wallet", Value: "0xUnknown"}}

	h.GetByWallet(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Dashboard Handler Tests ---

func TestGetStats_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	merchantID := uuid.New()
	mockReporting.EXPECT().GetDashboardStats(gomock.Any(), merchantID, "all").Return(&ports.PaymentStats{
		TotalPayments: 100,
		Paid:          80,
		Expired:       10,
		Refunded:      5,
		Cancelled:     3,
		InEscrow:      2,
		TotalVolume:   5_000_000_000,
		TotalRefunded: 200_000_000,
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?period=all", nil)
	c.Set("merchant_id", merchantID)

	h.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["total_payments"])
	assert.Equal(t, "5000.000000", data["total_volume"])
}

func TestListPayments_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	merchantID := uuid.New()
	record := testPaymentRecord(merchantID)

	mockReporting.EXPECT().ListPayments(gomock.Any(), gomock.Any()).Return([]domain.PaymentRecord{*record}, int64(1), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=1&page_size=20", nil)
	c.Set("merchant_id", merchantID)

	h.ListPayments(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["total_pages"])
}

func TestListPayments_ServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockReporting := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReporting)

	merchantID := uuid.New()
	mockReporting.EXPECT().ListPayments(gomock.Any(), gomock.Any()).Return(nil, int64(0), errors.New("db down"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("merchant_id", merchantID)

	h.ListPayments(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Health Check Test ---

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec_Loaded(t *testing.T) {
	SetSwaggerSpec([]byte("openapi: '3.0.0'\ninfo:\n  title: Test"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi")
}

func TestSwaggerSpec_NotLoaded(t *testing.T) {
	SetSwaggerSpec(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
