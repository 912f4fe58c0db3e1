package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNonceStore(t *testing.T) (*NonceStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	return NewNonceStore(goredis.NewClient(&goredis.Options{Addr: s.Addr()})), s
}

func TestNonceStore_FirstUseWins(t *testing.T) {
	store, _ := newNonceStore(t)
	ctx := context.Background()

	fresh, err := store.CheckAndSet(ctx, "merchant-1", "n-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.CheckAndSet(ctx, "merchant-1", "n-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh, "a replayed nonce must be rejected")
}

func TestNonceStore_ScopedPerMerchant(t *testing.T) {
	store, _ := newNonceStore(t)
	ctx := context.Background()

	fresh, err := store.CheckAndSet(ctx, "merchant-A", "n-shared", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	// A different merchant picking the same nonce value is not a replay.
	fresh, err = store.CheckAndSet(ctx, "merchant-B", "n-shared", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestNonceStore_ReusableAfterTTL(t *testing.T) {
	store, s := newNonceStore(t)
	ctx := context.Background()

	fresh, err := store.CheckAndSet(ctx, "merchant-1", "n-exp", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)

	s.FastForward(2 * time.Second)

	// The signature's validity window has passed with it; reuse is fine.
	fresh, err = store.CheckAndSet(ctx, "merchant-1", "n-exp", time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)
}
