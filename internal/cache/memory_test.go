package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

func TestMemory_GetSetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []string{"a", "b"}, time.Minute))
	ids, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ids)

	// Returned slices are copies.
	ids[0] = "mutated"
	ids, _, _ = m.Get(ctx, "k")
	assert.Equal(t, "a", ids[0])

	require.NoError(t, m.Set(ctx, "empty", nil, time.Minute))
	ids, ok, err = m.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok, "empty lists are valid cache values")
	assert.Empty(t, ids)

	require.NoError(t, m.Delete(ctx, "k", "empty", "missing"))
	assert.Zero(t, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []string{"a"}, 5*time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []string{"b"}, 0))

	now = now.Add(4 * time.Minute)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemory_WithRuleCache(t *testing.T) {
	m := NewMemory()
	c := discount.NewRuleCache(m)
	ctx := context.Background()

	c.Store(ctx, []string{"r1", "r2"}, []string{"r2"})
	active, loyalty, ok := c.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2"}, active)
	assert.Equal(t, []string{"r2"}, loyalty)

	require.NoError(t, c.Invalidate(ctx))
	_, _, ok = c.Load(ctx)
	assert.False(t, ok)
}

func TestCodec(t *testing.T) {
	for _, ids := range [][]string{{}, {"a"}, {"550e8400-e29b-41d4-a716-446655440000", "x\"y"}} {
		got, err := decodeIDs(encodeIDs(ids))
		require.NoError(t, err)
		assert.Equal(t, ids, got)
	}

	_, err := decodeIDs([]byte(`{"not":"an array"}`))
	require.Error(t, err)
	_, err = decodeIDs([]byte(`[1,2]`))
	require.Error(t, err)
}
