package handler

import (
	"pylinks/internal/adapter/http/middleware"
	redisStore "pylinks/internal/adapter/storage/redis"
	"pylinks/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	LedgerSvc      ports.LedgerService
	EscrowSvc      ports.EscrowService
	WebhookSvc     ports.WebhookService
	ReportingSvc   ports.ReportingService
	AffiliateSvc   ports.AffiliateService
	MerchantRepo   ports.MerchantRepository
	EncSvc         ports.EncryptionService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	ArbiterKey     string                     // operator credential for dispute resolution; empty = disabled
	HealthCheckers []ports.HealthChecker
	MerchantSvc    ports.MerchantManagementService // nil = merchant management disabled
	AuditSvc       ports.AuditService              // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	affiliateHandler := NewAffiliateHandler(deps.AffiliateSvc)
	affiliates := v1.Group("/affiliates")
	{
		affiliates.POST("", rl("affiliates"), affiliateHandler.Register)
		affiliates.GET("/:wallet", rl("affiliates"), affiliateHandler.GetByWallet)
	}

	// --- HMAC-authenticated routes (merchant API) ---
	hmacAuth := middleware.HMACAuth(deps.MerchantRepo, deps.EncSvc, deps.SigSvc, deps.NonceStore, deps.Logger)
	paymentHandler := NewPaymentHandler(deps.LedgerSvc, deps.WebhookSvc)
	payments := v1.Group("/payments", hmacAuth)
	{
		payments.POST("", rl("payments"), paymentHandler.CreatePayment)
		payments.GET("/:id", rl("payments"), paymentHandler.GetPayment)
		payments.POST("/:id/cancel", rl("payments"), paymentHandler.CancelPayment)
		payments.POST("/:id/refund", rl("payments_refund"), paymentHandler.RefundPayment)
		payments.GET("/:id/credits", rl("payments"), paymentHandler.ListCredits)
		payments.GET("/:id/deliveries", rl("payments"), paymentHandler.ListDeliveries)
		payments.POST("/:id/deliveries/:event_id/redeliver", rl("payments"), paymentHandler.RedeliverWebhook)
	}

	escrowHandler := NewEscrowHandler(deps.EscrowSvc)
	escrows := v1.Group("/escrows", hmacAuth)
	{
		escrows.POST("", rl("escrows"), escrowHandler.CreateEscrow)
		escrows.GET("/:id", rl("escrows"), escrowHandler.GetEscrow)
		escrows.POST("/:id/release", rl("escrows"), escrowHandler.Release)
		escrows.POST("/:id/dispute", rl("escrows"), escrowHandler.Dispute)
	}

	// Dispute resolution is an operator action, not a merchant one; it sits
	// outside the HMAC group behind the arbiter credential.
	arbiterAuth := middleware.ArbiterAuth(deps.ArbiterKey, deps.Logger)
	v1.POST("/escrows/:id/resolve", arbiterAuth, rl("escrows"), escrowHandler.Resolve)

	// --- JWT-authenticated routes (dashboard) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)

	dashboard := v1.Group("/dashboard", jwtAuth)
	{
		dashboard.GET("/stats", rl("dashboard"), dashboardHandler.GetStats)
		dashboard.GET("/payments", rl("dashboard"), dashboardHandler.ListPayments)
	}

	// --- Merchant management (JWT-authenticated) ---
	if deps.MerchantSvc != nil {
		merchantHandler := NewMerchantHandler(deps.MerchantSvc)
		merchants := v1.Group("/merchants/me", jwtAuth)
		{
			merchants.GET("", rl("dashboard"), merchantHandler.GetProfile)
			merchants.PUT("/webhook", rl("dashboard"), merchantHandler.UpdateWebhookURL)
			merchants.POST("/rotate-keys", rl("dashboard"), merchantHandler.RotateKeys)
		}
	}

	return r
}
