package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"

	"github.com/google/uuid"
)

type merchantService struct {
	merchantRepo ports.MerchantRepository
	encSvc       ports.EncryptionService
}

// NewMerchantService creates a new merchant management service.
func NewMerchantService(
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
) ports.MerchantManagementService {
	return &merchantService{
		merchantRepo: merchantRepo,
		encSvc:       encSvc,
	}
}

func (s *merchantService) GetProfile(ctx context.Context, merchantID uuid.UUID) (*ports.MerchantProfile, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}

	return &ports.MerchantProfile{
		ID:            merchant.ID,
		Username:      merchant.Username,
		MerchantName:  merchant.MerchantName,
		WalletAddress: merchant.WalletAddress,
		WebhookURL:    merchant.WebhookURL,
		Status:        merchant.Status,
		CreatedAt:     merchant.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *merchantService) UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error {
	if webhookURL != nil && *webhookURL != "" {
		u, err := url.Parse(*webhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return apperror.Validation("webhook_url must be an absolute http(s) URL")
		}
	}

	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return apperror.InternalError(err)
	}
	if merchant == nil {
		return apperror.ErrNotFound("merchant")
	}

	merchant.WebhookURL = webhookURL
	merchant.UpdatedAt = time.Now().UTC()

	if err := s.merchantRepo.Update(ctx, merchant); err != nil {
		return apperror.InternalError(err)
	}
	return nil
}

func (s *merchantService) RotateKeys(ctx context.Context, merchantID uuid.UUID) (*ports.RotateKeysResponse, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}

	newAccessKey, err := generateKey("ak_", 24)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate access key: %w", err))
	}
	newSecretKey, err := generateKey("sk_", 32)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate secret key: %w", err))
	}

	encSecretKey, err := s.encSvc.Encrypt(newSecretKey)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt secret key: %w", err))
	}

	merchant.AccessKey = newAccessKey
	merchant.SecretKeyEnc = encSecretKey
	merchant.UpdatedAt = time.Now().UTC()

	if err := s.merchantRepo.Update(ctx, merchant); err != nil {
		return nil, apperror.InternalError(err)
	}

	return &ports.RotateKeysResponse{
		AccessKey: newAccessKey,
		SecretKey: newSecretKey,
	}, nil
}
