package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{})
	require.ErrorContains(t, err, "address is required")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("SCHOOLX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCHOOLX_TEST_REDIS_ADDR not set")
	}

	client, err := NewRedisClient(context.Background(), RedisConfig{Address: addr, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	require.NoError(t, store.Set(ctx, key, []byte("value"), time.Minute))
	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", string(value))

	count, ttl, err := store.IncrementWithTTL(ctx, key+":n", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, key, key+":n"))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}
