package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pylinks/config"
	"pylinks/internal/adapter/chain/ethrpc"
	httpHandler "pylinks/internal/adapter/http/handler"
	pgStorage "pylinks/internal/adapter/storage/postgres"
	redisStorage "pylinks/internal/adapter/storage/redis"
	"pylinks/internal/core/ports"
	"pylinks/internal/service"
	"pylinks/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting PyLinks")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	paymentRepo := pgStorage.NewPaymentRepo(pool)
	creditRepo := pgStorage.NewCreditRepo(pool)
	escrowRepo := pgStorage.NewEscrowRepo(pool)
	transferRepo := pgStorage.NewTransferRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	affiliateRepo := pgStorage.NewAffiliateRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	sessionCache := redisStorage.NewSessionCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Settlement layer client (chain reader + price oracle)
	chainClient := ethrpc.NewClient(cfg.Chain, log)

	// Initialize business services
	webhookSvc := service.NewWebhookService(
		webhookRepo,
		merchantRepo,
		encSvc,
		sigSvc,
		nil, // default HTTP client with configured timeout
		service.WebhookConfig{RetryCount: cfg.Webhook.RetryCount, Timeout: cfg.Webhook.Timeout()},
		log,
	)
	ledgerSvc := service.NewLedgerService(
		paymentRepo,
		creditRepo,
		transferRepo,
		affiliateRepo,
		merchantRepo,
		sessionCache,
		transactor,
		webhookSvc,
		service.LedgerConfig{
			SessionExpiry: cfg.Payment.SessionExpiry(),
			RegularExpiry: cfg.Payment.RegularExpiry(),
			RefundWindow:  cfg.Payment.RefundWindow(),
		},
		log,
	)
	escrowSvc := service.NewEscrowService(
		paymentRepo,
		escrowRepo,
		creditRepo,
		merchantRepo,
		transactor,
		chainClient,
		webhookSvc,
		service.EscrowConfig{
			SessionExpiry: cfg.Payment.SessionExpiry(),
			HoldWindow:    cfg.Payment.EscrowHold(),
			ArbiterWallet: cfg.Payment.ArbiterWallet,
		},
		log,
	)
	authSvc := service.NewAuthService(merchantRepo, hashSvc, encSvc, tokenSvc)
	merchantSvc := service.NewMerchantService(merchantRepo, encSvc)
	reportingSvc := service.NewReportingService(paymentRepo)
	affiliateSvc := service.NewAffiliateService(affiliateRepo, log)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Confirmation tracker feeds confirmed transfers into the ledger
	tracker := service.NewConfirmationTracker(chainClient, ledgerSvc, service.TrackerConfig{
		Confirmations: cfg.Chain.BlockConfirmations,
		PollInterval:  cfg.Chain.PollInterval,
	}, log)

	// Background loops
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		webhookSvc.Run(ctx, cfg.Payment.SweepInterval)
	}()
	go func() {
		defer wg.Done()
		runSweeps(ctx, ledgerSvc, escrowSvc, cfg.Payment.SweepInterval, log)
	}()

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		LedgerSvc:      ledgerSvc,
		EscrowSvc:      escrowSvc,
		WebhookSvc:     webhookSvc,
		ReportingSvc:   reportingSvc,
		AffiliateSvc:   affiliateSvc,
		MerchantRepo:   merchantRepo,
		EncSvc:         encSvc,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		ArbiterKey:     cfg.Payment.ArbiterKey,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		MerchantSvc:    merchantSvc,
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stop()
	wg.Wait()
	log.Info().Msg("Server exited")
}

// runSweeps periodically expires overdue payments and releases due escrows.
func runSweeps(ctx context.Context, ledgerSvc ports.LedgerService, escrowSvc ports.EscrowService, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := ledgerSvc.ExpireOverdue(ctx, now); err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
			} else if n > 0 {
				log.Info().Int("expired", n).Msg("expiry sweep")
			}
			if n, err := escrowSvc.AutoReleaseDue(ctx, now); err != nil {
				log.Error().Err(err).Msg("auto-release sweep failed")
			} else if n > 0 {
				log.Info().Int("released", n).Msg("auto-release sweep")
			}
		}
	}
}
