package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set(ctx, "key1", "value1", 5*time.Minute)

	val, ok := c.Get(ctx, "key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)

	_, ok = c.Get(ctx, "nonexistent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set(ctx, "shortlived", "value", 50*time.Millisecond)
	c.Set(ctx, "forever", "value", 0)

	_, ok := c.Get(ctx, "shortlived")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get(ctx, "shortlived")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)

	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Zero(t, c.Stats().CurrentSize)
}

func TestMemoryCache_Janitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	c := NewMemoryCache(10 * time.Millisecond)

	c.Set(ctx, "gone", "x", 5*time.Millisecond)
	c.Set(ctx, "stays", "y", time.Minute)

	require.Eventually(t, func() bool {
		return c.Stats().Evictions == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Stats().CurrentSize)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Set(ctx, "k", n, time.Minute)
			c.Get(ctx, "k")
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(20), stats.Sets)
	assert.Equal(t, int64(20), stats.Hits)
}
