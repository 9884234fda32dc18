package imagecache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/storage"
	"github.com/xmx0632/photoshow/testutil"
)

// stubSource returns records, optionally blocking until release is closed.
type stubSource struct {
	records []image.Record
	err     error
	calls   atomic.Int32
	release chan struct{}
	entered chan struct{}
}

func (s *stubSource) Records(ctx context.Context) ([]image.Record, error) {
	s.calls.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.records, s.err
}

func TestRefreshMergesLocalRecords(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx, []image.Record{
		testutil.LocalRecord("draft.png", "2025-01-05T00:00:00Z"),
		testutil.CloudRecord("gone.png", "2025-01-04T00:00:00Z"),
	}))

	source := &stubSource{records: []image.Record{testutil.CloudRecord("new.png", "2025-01-06T00:00:00Z")}}
	r := NewRefresher(m, source, RefresherOptions{})

	merged, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.png", "draft.png"}, recordIDs(merged))
	assert.Equal(t, []string{"new.png", "draft.png"}, recordIDs(m.GetAll(ctx)))

	st := r.Status()
	assert.Equal(t, int64(1), st.Runs)
	assert.Equal(t, 2, st.LastCount)
	assert.Empty(t, st.LastError)
	assert.NotNil(t, st.LastRun)
	assert.False(t, st.InFlight)
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx, []image.Record{testutil.CloudRecord("a.png", "")}))

	r := NewRefresher(m, &stubSource{err: assert.AnError}, RefresherOptions{})
	_, err := r.Refresh(ctx)
	require.Error(t, err)

	assert.Len(t, m.GetAll(ctx), 1)
	assert.Contains(t, r.Status().LastError, assert.AnError.Error())
}

func TestTriggerCollapsesConcurrentRefreshes(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	source := &stubSource{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := NewRefresher(m, source, RefresherOptions{})
	ctx := context.Background()

	assert.True(t, r.Trigger(ctx))
	<-source.entered

	assert.True(t, r.Status().InFlight)
	assert.False(t, r.Trigger(ctx))
	_, err := r.Refresh(ctx)
	assert.ErrorIs(t, err, ErrRefreshInFlight)

	// Readers are not blocked by the running refresh.
	assert.NotNil(t, m.Status(ctx, 60).Images)

	close(source.release)
	r.Wait()
	assert.False(t, r.Status().InFlight)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestEnsureInitializedSharesColdLoad(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	source := &stubSource{
		records: []image.Record{testutil.CloudRecord("a.png", "")},
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r := NewRefresher(m, source, RefresherOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.EnsureInitialized(ctx)
		}()
	}
	<-source.entered
	time.Sleep(20 * time.Millisecond)
	close(source.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), source.calls.Load())
	assert.True(t, m.IsInitialized(ctx))

	require.NoError(t, r.EnsureInitialized(ctx))
	assert.Equal(t, int32(1), source.calls.Load(), "warm cache skips the source")
}

func TestEnsureInitializedWaitsForTriggeredRefresh(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	source := &stubSource{
		records: []image.Record{testutil.CloudRecord("a.png", "")},
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r := NewRefresher(m, source, RefresherOptions{})
	ctx := context.Background()

	require.True(t, r.Trigger(ctx))
	<-source.entered

	errc := make(chan error, 1)
	go func() { errc <- r.EnsureInitialized(ctx) }()

	select {
	case err := <-errc:
		t.Fatalf("EnsureInitialized returned before the running refresh finished: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(source.release)
	require.NoError(t, <-errc)
	r.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, int64(1), r.Status().Runs)
	assert.True(t, m.IsInitialized(ctx))
}

func TestEnsureInitializedReportsFailedTriggeredRefresh(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	source := &stubSource{err: assert.AnError, release: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := NewRefresher(m, source, RefresherOptions{})
	ctx := context.Background()

	require.True(t, r.Trigger(ctx))
	<-source.entered

	errc := make(chan error, 1)
	go func() { errc <- r.EnsureInitialized(ctx) }()
	time.Sleep(20 * time.Millisecond)
	close(source.release)

	assert.ErrorIs(t, <-errc, assert.AnError)
	r.Wait()
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestRunStopsWithContext(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, testutil.NewScriptedStore(clock.Now), clock)
	source := &stubSource{}
	r := NewRefresher(m, source, RefresherOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return source.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRemoteSourceEnrichesFromMetadata(t *testing.T) {
	ctx := context.Background()
	objects := testutil.NewMemoryObjectStore()
	objects.Now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	meta := testutil.NewMemoryMetadataStore()

	_, err := objects.Put(ctx, "a.png", strings.NewReader("a"), 1, "image/png",
		map[string]string{"prompt": "from object", "tags": "x,y"})
	require.NoError(t, err)
	_, err = objects.Put(ctx, "b.png", strings.NewReader("b"), 1, "image/png", nil)
	require.NoError(t, err)
	require.NoError(t, meta.Upsert(ctx, image.Record{
		ID:            "b.png",
		Prompt:        "from metadata",
		Tags:          image.Tags{"z"},
		CreatedAt:     "2025-01-15T00:00:00Z",
		CloudFileName: "images/b.png",
	}))

	src := &RemoteSource{Objects: objects, Metadata: meta, Prefix: objects.Prefix}
	records, err := src.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	a, b := records[0], records[1]
	assert.Equal(t, "a.png", a.ID)
	assert.Equal(t, "from object", a.Prompt)
	assert.Equal(t, image.Tags{"x", "y"}, a.Tags)
	assert.True(t, a.IsCloudImage)
	assert.Equal(t, "images/a.png", a.CloudFileName)
	assert.Equal(t, "http://objects.test/images/a.png", a.URL)
	assert.Equal(t, "2025-02-01T00:00:00Z", a.CreatedAt)

	assert.Equal(t, "from metadata", b.Prompt)
	assert.Equal(t, image.Tags{"z"}, b.Tags)
	assert.Equal(t, "2025-01-15T00:00:00Z", b.CreatedAt)
}

func TestRemoteSourceToleratesMetadataFailure(t *testing.T) {
	ctx := context.Background()
	objects := testutil.NewMemoryObjectStore()
	_, err := objects.Put(ctx, "a.png", strings.NewReader("a"), 1, "image/png", nil)
	require.NoError(t, err)
	meta := testutil.NewMemoryMetadataStore()
	meta.Err = assert.AnError

	records, err := (&RemoteSource{Objects: objects, Metadata: meta}).Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	objects.Err = assert.AnError
	_, err = (&RemoteSource{Objects: objects}).Records(ctx)
	assert.Error(t, err)
}

func TestObjectRecordDefaults(t *testing.T) {
	rec := ObjectRecord(storage.Object{Key: "images/x/cat.png"}, "")
	assert.Equal(t, "cat.png", rec.ID)
	assert.Equal(t, image.PlaceholderPrompt, rec.Prompt)
	assert.Empty(t, rec.CreatedAt)
	assert.Equal(t, image.Tags{}, rec.Tags)
}

func recordIDs(records []image.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
