package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/adapter/clock"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)

	_, ok := c.Get(Key("m", "hello"))
	assert.False(t, ok)

	c.Set(Key("m", "hello"), []float32{1, 2, 3})
	got, ok := c.Get(Key("m", "hello"))
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	_, ok = c.Get(Key("other", "hello"))
	assert.False(t, ok, "model name is part of the key")
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	in := []float32{1, 2}
	c.Set("k", in)
	in[0] = 99

	got, _ := c.Get("k")
	got[1] = 42

	again, _ := c.Get("k")
	assert.Equal(t, []float32{1, 2}, again)
}

func TestMemoryCacheTTL(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemoryCache(time.Hour, WithClock(clk))

	c.Set("k", []float32{1})
	clk.Advance(59 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clk.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry evicted on access")
}

func TestMemoryCacheDefaultTTL(t *testing.T) {
	c := NewMemoryCache(0)
	assert.Equal(t, DefaultTTL, c.ttl)
}

func TestMemoryCacheSetRefreshesTimestamp(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := NewMemoryCache(10*time.Second, WithClock(clk))

	c.Set("k", []float32{1})
	clk.Advance(8 * time.Second)
	c.Set("k", []float32{2})
	clk.Advance(8 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, got)
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	c.Set("k", []float32{1})
	c.Invalidate("k")
	c.Invalidate("missing")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheMaxEntriesEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(time.Minute, WithMaxEntries(2))
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	_, _ = c.Get("a")
	c.Set("c", []float32{3})

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestMemoryCacheCompact(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := NewMemoryCache(time.Second, WithClock(clk))
	c.Set("old1", []float32{1})
	c.Set("old2", []float32{1})
	clk.Advance(2 * time.Second)
	c.Set("fresh", []float32{1})

	assert.Equal(t, 2, c.Compact())
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(time.Minute, WithMaxEntries(50))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%70)
				c.Set(key, []float32{float32(g), float32(i)})
				c.Get(key)
				if i%17 == 0 {
					c.Invalidate(key)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, ok := decodeVector(encodeVector(in))
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("KB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KB_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisConfig{Addr: addr, KeyPrefix: "kb:test:", TTL: time.Minute}, nil)
	require.NoError(t, err)
	defer c.Close()

	key := Key("test-model", fmt.Sprintf("text-%d", time.Now().UnixNano()))
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []float32{1, 2, 3})
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)

	c.Invalidate(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}
