//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint + "/0"
}

func TestRedis(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	r, err := DialRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(ctx))

	t.Run("miss", func(t *testing.T) {
		_, ok, err := r.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, r.Set(ctx, "ids", []string{"a", "b"}, time.Minute))
		ids, ok, err := r.Get(ctx, "ids")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, ids)

		require.NoError(t, r.Delete(ctx, "ids"))
		_, ok, err = r.Get(ctx, "ids")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, r.Set(ctx, "short", []string{"a"}, time.Second))
		require.Eventually(t, func() bool {
			_, ok, err := r.Get(ctx, "short")
			return err == nil && !ok
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("corrupt entry is dropped", func(t *testing.T) {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		raw := redis.NewClient(opts)
		defer raw.Close()
		require.NoError(t, raw.Set(ctx, "bad", "{oops", time.Minute).Err())

		_, ok, err := r.Get(ctx, "bad")
		require.Error(t, err)
		assert.False(t, ok)

		n, err := raw.Exists(ctx, "bad").Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("rule cache", func(t *testing.T) {
		c := discount.NewRuleCache(r)
		c.Store(ctx, []string{"r1"}, []string{})
		active, loyalty, ok := c.Load(ctx)
		require.True(t, ok)
		assert.Equal(t, []string{"r1"}, active)
		assert.Empty(t, loyalty)

		require.NoError(t, c.Invalidate(ctx))
		_, _, ok = c.Load(ctx)
		assert.False(t, ok)
	})
}
