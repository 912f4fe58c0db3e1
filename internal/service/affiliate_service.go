package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// referralCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const referralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codeGenAttempts bounds collision retries before giving up.
const codeGenAttempts = 5

type affiliateService struct {
	repo ports.AffiliateRepository
	log  zerolog.Logger
}

// NewAffiliateService creates a new affiliate service.
func NewAffiliateService(repo ports.AffiliateRepository, log zerolog.Logger) ports.AffiliateService {
	return &affiliateService{repo: repo, log: log}
}

// Register creates an affiliate with a fresh referral code. One affiliate per
// wallet; re-registering the same wallet returns the existing record.
func (s *affiliateService) Register(ctx context.Context, name, wallet string) (*domain.Affiliate, error) {
	if name == "" || wallet == "" {
		return nil, apperror.Validation("name and wallet are required")
	}

	existing, err := s.repo.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("affiliate lookup: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("generate referral code: %w", err))
		}

		taken, err := s.repo.GetByCode(ctx, code)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("code lookup: %w", err))
		}
		if taken != nil {
			continue
		}

		affiliate := &domain.Affiliate{
			ID:           uuid.New(),
			Name:         name,
			Wallet:       wallet,
			ReferralCode: code,
			Tier:         domain.TierBronze,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Create(ctx, affiliate); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create affiliate: %w", err))
		}

		s.log.Info().
			Str("affiliate_id", affiliate.ID.String()).
			Str("code", code).
			Msg("affiliate registered")
		return affiliate, nil
	}

	return nil, apperror.ErrReferralCodeExists()
}

// GetByWallet returns the affiliate registered for a wallet.
func (s *affiliateService) GetByWallet(ctx context.Context, wallet string) (*domain.Affiliate, error) {
	affiliate, err := s.repo.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("affiliate lookup: %w", err))
	}
	if affiliate == nil {
		return nil, apperror.ErrNotFound("affiliate")
	}
	return affiliate, nil
}

// generateReferralCode returns a fixed-length uppercase code.
func generateReferralCode() (string, error) {
	b := make([]byte, domain.ReferralCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = referralCodeAlphabet[int(b[i])%len(referralCodeAlphabet)]
	}
	return string(b), nil
}
