package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"pylinks/internal/core/domain"
	"pylinks/internal/core/ports"
	"pylinks/pkg/apperror"
	"pylinks/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// Headers carrying the merchant HMAC credential set.
	HeaderAccessKey = "X-Merchant-Access-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"

	// HeaderArbiterKey carries the operator credential for dispute
	// resolution endpoints.
	HeaderArbiterKey = "X-Arbiter-Key"

	// A signature is only honored within this window of its timestamp.
	maxTimestampDrift = 60 * time.Second

	// Nonces outlive the drift window so a replay arriving at the edge of
	// it still hits a recorded nonce.
	nonceTTL = 120 * time.Second

	// Context keys
	CtxMerchantID  = "merchant_id"
	CtxAccessKey   = "access_key"
	CtxMerchantKey = "merchant"
)

// HMACAuth verifies merchant request signatures: timestamp freshness, then
// nonce replay, then the HMAC over the canonical request string.
func HMACAuth(
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	nonceStore ports.NonceStore,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessKey := c.GetHeader(HeaderAccessKey)
		signature := c.GetHeader(HeaderSignature)
		nonce := c.GetHeader(HeaderNonce)

		timestamp, ok := freshTimestamp(c.GetHeader(HeaderTimestamp))
		if accessKey == "" || signature == "" || nonce == "" {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}
		if !ok {
			abort(c, apperror.ErrTimestampExpired())
			return
		}

		merchant, err := lookupMerchant(c, merchantRepo, accessKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch merchant")
			abort(c, apperror.InternalError(err))
			return
		}
		if merchant == nil {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}
		if !merchant.IsActive() {
			abort(c, apperror.ErrMerchantSuspended())
			return
		}

		fresh, err := nonceStore.CheckAndSet(c.Request.Context(), merchant.ID.String(), nonce, nonceTTL)
		if err != nil {
			// Replay protection degrades open: a store outage must not take
			// the payment API down with it.
			log.Warn().Err(err).Msg("nonce store error, allowing request")
		} else if !fresh {
			abort(c, apperror.ErrNonceUsed())
			return
		}

		secretKey, err := encSvc.Decrypt(merchant.SecretKeyEnc)
		if err != nil {
			log.Error().Err(err).Msg("failed to decrypt merchant secret key")
			abort(c, apperror.ErrEncryptionFailure(err))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, apperror.Validation("cannot read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		canonical := sigSvc.BuildCanonicalString(
			c.Request.Method, c.Request.URL.Path, timestamp, nonce, string(body))
		if !sigSvc.Verify(secretKey, canonical, signature) {
			abort(c, apperror.ErrInvalidSignature())
			return
		}

		c.Set(CtxMerchantID, merchant.ID)
		c.Set(CtxAccessKey, merchant.AccessKey)
		c.Set(CtxMerchantKey, merchant)
		c.Next()
	}
}

// freshTimestamp parses the header value and checks it against the drift
// window. Returns the parsed unix timestamp and whether it is usable.
func freshTimestamp(header string) (int64, bool) {
	ts, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, false
	}
	drift := math.Abs(float64(time.Now().Unix() - ts))
	return ts, drift <= maxTimestampDrift.Seconds()
}

func lookupMerchant(c *gin.Context, repo ports.MerchantRepository, accessKey string) (*domain.Merchant, error) {
	return repo.GetByAccessKey(c.Request.Context(), accessKey)
}

func abort(c *gin.Context, err *apperror.AppError) {
	response.Error(c, err)
	c.Abort()
}

// ArbiterAuth gates dispute-resolution routes behind the operator's arbiter
// key. Merchant credentials never pass it; an empty configured key disables
// resolution entirely.
func ArbiterAuth(arbiterKey string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(HeaderArbiterKey)
		if arbiterKey == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(arbiterKey)) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Msg("arbiter auth rejected")
			abort(c, apperror.ErrNotArbiter())
			return
		}
		c.Next()
	}
}

// JWTAuth validates dashboard session tokens.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(authHeader[len(prefix):])
		if err != nil {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxMerchantID, claims.MerchantID)
		c.Set(CtxAccessKey, claims.AccessKey)
		c.Next()
	}
}

// RequestLogger logs one line per request, leveled by response status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery converts handler panics into SYS_001 responses.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
