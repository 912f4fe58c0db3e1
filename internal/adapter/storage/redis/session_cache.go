package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SessionCache implements ports.SessionCache using Redis. It is the fast
// path for duplicate-session replay; the payments table stays the source of
// truth when the cache is cold.
type SessionCache struct {
	client *goredis.Client
	prefix string
}

// NewSessionCache creates a new Redis-backed session cache.
func NewSessionCache(client *goredis.Client) *SessionCache {
	return &SessionCache{
		client: client,
		prefix: "session:",
	}
}

// Get retrieves a cached payment by session key.
// Returns nil, nil if the key does not exist.
func (c *SessionCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis session get: %w", err)
	}
	return val, nil
}

// Set stores a payment in the session cache with TTL.
func (c *SessionCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis session set: %w", err)
	}
	return nil
}
