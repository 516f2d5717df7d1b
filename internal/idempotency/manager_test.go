package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManagerClaimAndDedup(t *testing.T) {
	m := NewMemoryManager(nil)
	defer CloseMemoryManager(m)

	ok, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "re-claiming within the window must be rejected")
}

func TestMemoryManagerClaimExpiresAfterWindow(t *testing.T) {
	m := NewMemoryManager(nil)
	defer CloseMemoryManager(m)

	ok, err := m.TryClaim(context.Background(), "mem-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	ok, err = m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryManagerRelease(t *testing.T) {
	m := NewMemoryManager(nil)
	defer CloseMemoryManager(m)

	_, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), "mem-1"))

	ok, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func newTestRedisManager(t *testing.T) Manager {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisManager(client, "test:", nil)
}

func TestRedisManagerClaimAndDedup(t *testing.T) {
	m := newTestRedisManager(t)

	ok, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisManagerRelease(t *testing.T) {
	m := newTestRedisManager(t)

	_, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), "mem-1"))

	ok, err := m.TryClaim(context.Background(), "mem-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
