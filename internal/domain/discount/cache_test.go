package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowBackend struct {
	*mockCacheBackend
}

func (s slowBackend) Get(ctx context.Context, _ string) ([]string, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestRuleCache_LoadStore(t *testing.T) {
	backend := newMockCacheBackend()
	c := NewRuleCache(backend, WithCacheTTL(time.Minute))
	ctx := context.Background()

	_, _, ok := c.Load(ctx)
	require.False(t, ok)

	c.Store(ctx, []string{"a", "b"}, []string{})
	active, loyalty, ok := c.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, active)
	assert.Empty(t, loyalty)
}

func TestRuleCache_Invalidate(t *testing.T) {
	backend := newMockCacheBackend()
	c := NewRuleCache(backend)
	ctx := context.Background()

	c.Store(ctx, []string{"a"}, []string{"a"})
	require.NoError(t, c.Invalidate(ctx))
	_, _, ok := c.Load(ctx)
	assert.False(t, ok)

	backend.delErr = errors.New("readonly replica")
	require.ErrorIs(t, c.Invalidate(ctx), backend.delErr)
}

func TestRuleCache_Disabled(t *testing.T) {
	for _, c := range []*RuleCache{nil, NewRuleCache(nil)} {
		c.Store(context.Background(), []string{"a"}, nil)
		_, _, ok := c.Load(context.Background())
		assert.False(t, ok)
		assert.NoError(t, c.Invalidate(context.Background()))
	}
}

func TestRuleCache_Timeout(t *testing.T) {
	backend := slowBackend{newMockCacheBackend()}
	c := NewRuleCache(backend, WithCacheTimeout(10*time.Millisecond))

	start := time.Now()
	_, _, ok := c.Load(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}
