package cachestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/metric"
)

func newTestKV(t *testing.T, clock *testClock) (*KVStore, *fakeBucket, *fakeBucket) {
	t.Helper()
	envelope, counters := newFakeBucket(), newFakeBucket()
	store := NewKVStore(func(context.Context) (Buckets, error) {
		return Buckets{Envelope: envelope, Counters: counters}, nil
	}, KVOptions{Prefix: "test", Clock: clock.Now})
	return store, envelope, counters
}

func TestKVStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	store, envelope, _ := newTestKV(t, newTestClock())

	require.NoError(t, store.Init(ctx, []image.Record{{ID: "a"}}))

	initialized, ok := envelope.raw("test.initialized")
	require.True(t, ok)
	assert.Equal(t, "true", initialized)

	images, ok := envelope.raw("test.images")
	require.True(t, ok)
	assert.Contains(t, images, `"id":"a"`)

	_, ok = envelope.raw("test.last_updated")
	assert.True(t, ok)
}

func TestKVStore_ConnectorFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	registry := metric.NewMetricsRegistry()
	var calls atomic.Int32
	store := NewKVStore(func(context.Context) (Buckets, error) {
		calls.Add(1)
		return Buckets{}, errors.New("connection refused")
	}, KVOptions{Metrics: registry.CoreMetrics(), Clock: newTestClock().Now})

	images, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, images)
	ok, err := store.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.AddOrUpdate(ctx, image.Record{ID: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
	assert.True(t, errors.IsTransient(err))

	images, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1, "write must still reach the mirror")
	assert.Equal(t, "a", images[0].ID)

	assert.Equal(t, int32(1), calls.Load(), "cooldown must suppress reconnects")
	assert.Greater(t, testutil.ToFloat64(registry.CoreMetrics().StoreFallbacks.WithLabelValues(BackendExternalKV, "get_all")), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().StoreWriteErrors.WithLabelValues(BackendExternalKV, "add_or_update")))
}

func TestKVStore_ReconnectsAfterCooldown(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	var calls atomic.Int32
	envelope := newFakeBucket()
	store := NewKVStore(func(context.Context) (Buckets, error) {
		if calls.Add(1) == 1 {
			return Buckets{}, errors.New("connection refused")
		}
		return Buckets{Envelope: envelope, Counters: newFakeBucket()}, nil
	}, KVOptions{ReconnectCooldown: time.Minute, Clock: clock.Now})

	_, _ = store.GetAll(ctx)
	assert.False(t, store.Connected())

	clock.Advance(30 * time.Second)
	_, _ = store.GetAll(ctx)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(31 * time.Second)
	_, _ = store.GetAll(ctx)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, store.Connected())
}

func TestKVStore_ConcurrentFirstUseSharesOneConnect(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	store := NewKVStore(func(context.Context) (Buckets, error) {
		calls.Add(1)
		<-release
		return Buckets{Envelope: newFakeBucket(), Counters: newFakeBucket()}, nil
	}, KVOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.GetAll(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestKVStore_BucketFailureUsesMirror(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store, envelope, _ := newTestKV(t, clock)

	require.NoError(t, store.Init(ctx, []image.Record{{ID: "a"}}))

	envelope.setFail(true)
	require.Error(t, store.AddOrUpdate(ctx, image.Record{ID: "b"}))

	images, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(images))

	ok, err := store.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	last, has, err := store.LastUpdated(ctx)
	require.NoError(t, err)
	assert.True(t, has)
	assert.True(t, last.Equal(clock.Now()))

	removed, err := store.Remove(ctx, "b")
	assert.Error(t, err)
	assert.True(t, removed, "mirror result is reported when the bucket fails")
}

func TestKVStore_Counter(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store, _, counters := newTestKV(t, clock)

	n, err := store.Count(ctx, "generation.count.2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 1; i <= 3; i++ {
		n, err = store.Increment(ctx, "generation.count.2024-01-02", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	raw, _ := counters.raw("generation.count.2024-01-02")
	assert.Equal(t, "3", raw)

	counters.setFail(true)
	n, err = store.Count(ctx, "generation.count.2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "mirror keeps the last known count")

	n, err = store.Increment(ctx, "generation.count.2024-01-02", 48*time.Hour)
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
	assert.Equal(t, int64(4), n)

	clock.Advance(49 * time.Hour)
	n, _ = store.Count(ctx, "generation.count.2024-01-02")
	assert.Equal(t, int64(0), n, "mirror counters expire with their retention")
}

func TestKVStore_CorruptCounter(t *testing.T) {
	ctx := context.Background()
	store, _, counters := newTestKV(t, newTestClock())
	_, err := counters.Put(ctx, "k", []byte("abc"))
	require.NoError(t, err)

	n, err := store.Count(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestKVStore_ReadsRefreshMirror(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	envelope, counters := newFakeBucket(), newFakeBucket()
	connect := func(context.Context) (Buckets, error) {
		return Buckets{Envelope: envelope, Counters: counters}, nil
	}
	writer := NewKVStore(connect, KVOptions{Prefix: "test", Clock: clock.Now})
	reader := NewKVStore(connect, KVOptions{Prefix: "test", Clock: clock.Now})

	require.NoError(t, reader.Init(ctx, []image.Record{{ID: "old"}}))
	require.NoError(t, writer.Init(ctx, []image.Record{{ID: "new"}}))

	images, err := reader.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "new", images[0].ID)
	ok, err := reader.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	writtenAt, ok, err := reader.LastUpdated(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	envelope.setFail(true)

	images, err = reader.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "new", images[0].ID, "mirror holds the last value read, not the last value written here")
	fromMirror, ok, err := reader.LastUpdated(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, writtenAt.Equal(fromMirror))
}

func TestKVStore_Decrement(t *testing.T) {
	ctx := context.Background()
	store, _, counters := newTestKV(t, newTestClock())
	key := "generation.count.2024-01-02"

	for i := 0; i < 2; i++ {
		_, err := store.Increment(ctx, key, 48*time.Hour)
		require.NoError(t, err)
	}
	n, err := store.Decrement(ctx, key, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for i := 0; i < 2; i++ {
		n, err = store.Decrement(ctx, key, 48*time.Hour)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), n, "never below zero")
	raw, _ := counters.raw(key)
	assert.Equal(t, "0", raw)

	counters.setFail(true)
	n, err = store.Decrement(ctx, key, 48*time.Hour)
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
	assert.Equal(t, int64(0), n)
}
