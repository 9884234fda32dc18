package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestTTL(t *testing.T, ttl time.Duration, clock *fakeClock, opts ...Option[string]) Cache[string] {
	t.Helper()
	opts = append(opts, WithClock[string](clock.Now))
	c, err := NewTTL[string](context.Background(), ttl, 0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTTLCache_BasicOperations(t *testing.T) {
	c := newTestTTL(t, time.Minute, newFakeClock())

	_, ok := c.Get("key1")
	assert.False(t, ok)

	isNew, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, isNew)

	v, ok := c.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	isNew, err = c.Set("key1", "value2")
	require.NoError(t, err)
	assert.False(t, isNew)

	deleted, err := c.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTTLCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestTTL(t, 10*time.Second, clock)

	_, _ = c.Set("images", "fresh")

	clock.Advance(9 * time.Second)
	v, ok := c.Get("images")
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("images")
	assert.False(t, ok, "entry must be invisible after ttl")
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestTTLCache_SetRefreshesExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestTTL(t, 10*time.Second, clock)

	_, _ = c.Set("k", "a")
	clock.Advance(8 * time.Second)
	_, _ = c.Set("k", "b")
	clock.Advance(8 * time.Second)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestTTLCache_EmptyKey(t *testing.T) {
	c := newTestTTL(t, time.Minute, newFakeClock())

	_, err := c.Set("", "v")
	assert.Error(t, err)
	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestTTLCache_InvalidTTL(t *testing.T) {
	_, err := NewTTL[string](context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestTTLCache_ClearAndEvictCallback(t *testing.T) {
	var mu sync.Mutex
	evicted := map[string]string{}
	cb := WithEvictionCallback[string](func(key, value string) {
		mu.Lock()
		evicted[key] = value
		mu.Unlock()
	})

	c := newTestTTL(t, time.Minute, newFakeClock(), cb)
	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, evicted)
}

func TestTTLCache_BackgroundCleanup(t *testing.T) {
	c, err := NewTTL[string](context.Background(), 20*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("k", "v")
	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := newTestTTL(t, time.Minute, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key_%d_%d", id, j%10)
				_, _ = c.Set(key, "v")
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, c.Size())
}

func TestStatistics(t *testing.T) {
	c := newTestTTL(t, time.Minute, newFakeClock())

	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Sets())
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.0001)

	summary := stats.Summary()
	assert.Equal(t, int64(1), summary.CurrentSize)
}
