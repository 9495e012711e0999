package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	_, err := NewClient("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "exchange_rate:USD:EUR")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "exchange_rate:USD:EUR", "0.9", time.Hour))
	v, ok, err := c.Get(ctx, "exchange_rate:USD:EUR")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.9", v)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "exchange_rate:USD:EUR")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	require.NoError(t, c.Delete(ctx, "a", "b"))
	require.NoError(t, c.Delete(ctx))

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestLock(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "payment:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:payment:1"))

	ok, err = c.AcquireLock(ctx, "payment:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "payment:1"))
	ok, err = c.AcquireLock(ctx, "payment:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "payment:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = c.AcquireLock(ctx, "payment:2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	first, err := c.ClaimIdempotencyKey(ctx, "authorize:O1:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.ClaimIdempotencyKey(ctx, "authorize:O1:abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, "authorize:O1:abc"))
	again, err := c.ClaimIdempotencyKey(ctx, "authorize:O1:abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}
