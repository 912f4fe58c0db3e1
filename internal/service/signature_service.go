package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HMACSignatureService implements ports.SignatureService. One HMAC-SHA256
// primitive covers both directions: merchants sign inbound API requests with
// their secret key, and the platform signs outbound webhook bodies with the
// same key so endpoints can authenticate deliveries.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secretKey.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	return hex.EncodeToString(s.sum(secretKey, payload))
}

// Verify reports whether signature matches the payload. Constant-time.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	presented, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(s.sum(secretKey, payload), presented)
}

// BuildCanonicalString joins the request parts that a signature commits to.
// Format: METHOD|PATH|TIMESTAMP|NONCE|BODY.
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	return strings.Join([]string{method, path, strconv.FormatInt(timestamp, 10), nonce, body}, "|")
}

func (s *HMACSignatureService) sum(secretKey, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
