package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter, err := NewRedisFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	require.NoError(t, err)
	return limiter, mr
}

func TestFixedWindowLimiter(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, 2)
	fixed := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }

	assert.True(t, limiter.Allow(ctx, "10.0.0.1"), "expected first request to pass")
	assert.True(t, limiter.Allow(ctx, "10.0.0.1"), "expected second request to pass")
	assert.False(t, limiter.Allow(ctx, "10.0.0.1"), "expected third request to be blocked")
	assert.True(t, limiter.Allow(ctx, "10.0.0.2"), "expected keys to be counted separately")

	fixed = fixed.Add(time.Minute)
	assert.True(t, limiter.Allow(ctx, "10.0.0.1"), "expected a new window to reset the count")
}

func TestFixedWindowLimiter_FailsClosed(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	mr.Close()

	assert.False(t, limiter.Allow(context.Background(), "10.0.0.1"))
}

func TestNewRedisFixedWindowLimiter_Invalid(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisFixedWindowLimiter(nil, "", 1, time.Minute)
	assert.Error(t, err)
	_, err = NewRedisFixedWindowLimiter(client, "", 0, time.Minute)
	assert.Error(t, err)
	_, err = NewRedisFixedWindowLimiter(client, "", 1, 0)
	assert.Error(t, err)

	limiter, err := NewRedisFixedWindowLimiter(client, " ", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, defaultPrefix, limiter.prefix)
}

func TestUnlimited(t *testing.T) {
	assert.True(t, Unlimited{}.Allow(context.Background(), ""))
}
