package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const noncePrefix = "pylinks:nonce:"

// NonceStore implements ports.NonceStore on Redis. Each signed API request
// carries a nonce; SET NX makes the first sighting win, so a replayed
// request within the signature's validity window is rejected.
type NonceStore struct {
	client *goredis.Client
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{client: client}
}

// CheckAndSet records the nonce if unseen. Returns true when the nonce is
// new, false when it was already consumed. Nonces are scoped per merchant so
// two merchants may legitimately pick the same value.
func (s *NonceStore) CheckAndSet(ctx context.Context, merchantID string, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", noncePrefix, merchantID, nonce)
	fresh, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("redis nonce check: %w", err)
	}
	return fresh, nil
}
