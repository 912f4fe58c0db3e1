package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type authTestDeps struct {
	svc          *AuthServiceImpl
	merchantRepo *mocks.MockMerchantRepository
	hashSvc      *mocks.MockHashService
	encSvc       *mocks.MockEncryptionService
	tokenSvc     *mocks.MockTokenService
	ctrl         *gomock.Controller
}

func setupAuthService(t *testing.T) *authTestDeps {
	ctrl := gomock.NewController(t)
	d := &authTestDeps{
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		hashSvc:      mocks.NewMockHashService(ctrl),
		encSvc:       mocks.NewMockEncryptionService(ctrl),
		tokenSvc:     mocks.NewMockTokenService(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewAuthService(d.merchantRepo, d.hashSvc, d.encSvc, d.tokenSvc)
	return d
}

func TestAuthService_Register_Success(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByUsername(ctx, "coffee-shop").Return(nil, nil)
	d.hashSvc.EXPECT().Hash("hunter2hunter2").Return("$argon2id$...", nil)
	d.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc_secret", nil)

	var created *domain.Merchant
	d.merchantRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, m *domain.Merchant) error {
			created = m
			return nil
		})

	resp, err := d.svc.Register(ctx, ports.RegisterRequest{
		Username:      "coffee-shop",
		Password:      "hunter2hunter2",
		MerchantName:  "Coffee Shop",
		WalletAddress: "0xMERCHANT",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.AccessKey, "ak_"))
	assert.True(t, strings.HasPrefix(resp.SecretKey, "sk_"))

	require.NotNil(t, created)
	assert.Equal(t, "0xMERCHANT", created.WalletAddress)
	assert.Equal(t, "enc_secret", created.SecretKeyEnc)
	assert.Equal(t, domain.MerchantStatusActive, created.Status)
}

func TestAuthService_Register_EncryptionFailure(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByUsername(ctx, "coffee-shop").Return(nil, nil)
	d.hashSvc.EXPECT().Hash(gomock.Any()).Return("$argon2id$...", nil)
	d.encSvc.EXPECT().Encrypt(gomock.Any()).Return("", errors.New("bad key"))

	_, err := d.svc.Register(ctx, ports.RegisterRequest{
		Username:      "coffee-shop",
		Password:      "hunter2hunter2",
		WalletAddress: "0xMERCHANT",
	})
	assertCode(t, err, "SYS_003")
}

func TestAuthService_Register_MissingWallet(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Register(context.Background(), ports.RegisterRequest{
		Username: "coffee-shop",
		Password: "hunter2hunter2",
	})
	assertCode(t, err, "VAL_001")
}

func TestAuthService_Register_UsernameTaken(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByUsername(ctx, "coffee-shop").Return(&domain.Merchant{ID: uuid.New()}, nil)

	_, err := d.svc.Register(ctx, ports.RegisterRequest{
		Username:      "coffee-shop",
		Password:      "hunter2hunter2",
		WalletAddress: "0xM",
	})
	assertCode(t, err, "AUTH_002")
}

func TestAuthService_Login_Success(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	merchant := &domain.Merchant{
		ID:           merchantID,
		Username:     "coffee-shop",
		PasswordHash: "$argon2id$...",
		AccessKey:    "ak_test",
		Status:       domain.MerchantStatusActive,
	}
	expiry := time.Now().Add(time.Hour)

	d.merchantRepo.EXPECT().GetByUsername(ctx, "coffee-shop").Return(merchant, nil)
	d.hashSvc.EXPECT().Verify("hunter2hunter2", "$argon2id$...").Return(true, nil)
	d.tokenSvc.EXPECT().Generate(merchantID, "ak_test").Return("jwt-token", expiry, nil)

	token, exp, err := d.svc.Login(ctx, "coffee-shop", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, exp)
}

func TestAuthService_Login_BadPassword(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := &domain.Merchant{
		ID:           uuid.New(),
		PasswordHash: "$argon2id$...",
		Status:       domain.MerchantStatusActive,
	}

	d.merchantRepo.EXPECT().GetByUsername(ctx, "coffee-shop").Return(merchant, nil)
	d.hashSvc.EXPECT().Verify("wrong", "$argon2id$...").Return(false, nil)

	_, _, err := d.svc.Login(ctx, "coffee-shop", "wrong")
	assertCode(t, err, "AUTH_001")
}

func TestAuthService_Login_UnknownUser(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByUsername(ctx, "ghost").Return(nil, nil)

	_, _, err := d.svc.Login(ctx, "ghost", "whatever")
	assertCode(t, err, "AUTH_001")
}

func TestAuthService_Login_Suspended(t *testing.T) {
	d := setupAuthService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := &domain.Merchant{
		ID:           uuid.New(),
		PasswordHash: "$argon2id$...",
		Status:       domain.MerchantStatusSuspended,
	}

	d.merchantRepo.EXPECT().GetByUsername(ctx, "frozen").Return(merchant, nil)
	d.hashSvc.EXPECT().Verify("hunter2hunter2", "$argon2id$...").Return(true, nil)

	_, _, err := d.svc.Login(ctx, "frozen", "hunter2hunter2")
	assertCode(t, err, "AUTH_004")
}
