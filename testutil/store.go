package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/storage/cachestore"
)

// ScriptedStore wraps a memory-only FileStore, counts every call and can
// be told to fail.
type ScriptedStore struct {
	inner *cachestore.FileStore

	mu    sync.Mutex
	calls map[string]int
	err   error
	caps  cachestore.Capabilities
	delay time.Duration
}

var _ cachestore.Store = (*ScriptedStore)(nil)

// NewScriptedStore creates a store using clock for timestamps.
func NewScriptedStore(clock cachestore.Clock) *ScriptedStore {
	return &ScriptedStore{
		inner: cachestore.NewFileStore(cachestore.FileOptions{Clock: clock}),
		calls: map[string]int{},
	}
}

// SetError makes every following call fail with err; nil restores it.
func (s *ScriptedStore) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetCapabilities overrides the reported capabilities.
func (s *ScriptedStore) SetCapabilities(c cachestore.Capabilities) {
	s.mu.Lock()
	s.caps = c
	s.mu.Unlock()
}

// SetDelay makes every call sleep first.
func (s *ScriptedStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Calls returns how often method was called.
func (s *ScriptedStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// ResetCalls zeroes the call counters.
func (s *ScriptedStore) ResetCalls() {
	s.mu.Lock()
	s.calls = map[string]int{}
	s.mu.Unlock()
}

func (s *ScriptedStore) enter(method string) error {
	s.mu.Lock()
	s.calls[method]++
	err, delay := s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (s *ScriptedStore) Init(ctx context.Context, images []image.Record) error {
	if err := s.enter("Init"); err != nil {
		return err
	}
	return s.inner.Init(ctx, images)
}

func (s *ScriptedStore) GetAll(ctx context.Context) ([]image.Record, error) {
	if err := s.enter("GetAll"); err != nil {
		return nil, err
	}
	return s.inner.GetAll(ctx)
}

func (s *ScriptedStore) IsInitialized(ctx context.Context) (bool, error) {
	if err := s.enter("IsInitialized"); err != nil {
		return false, err
	}
	return s.inner.IsInitialized(ctx)
}

func (s *ScriptedStore) LastUpdated(ctx context.Context) (time.Time, bool, error) {
	if err := s.enter("LastUpdated"); err != nil {
		return time.Time{}, false, err
	}
	return s.inner.LastUpdated(ctx)
}

func (s *ScriptedStore) AddOrUpdate(ctx context.Context, record image.Record) error {
	if err := s.enter("AddOrUpdate"); err != nil {
		return err
	}
	return s.inner.AddOrUpdate(ctx, record)
}

func (s *ScriptedStore) Remove(ctx context.Context, id string) (bool, error) {
	if err := s.enter("Remove"); err != nil {
		return false, err
	}
	return s.inner.Remove(ctx, id)
}

func (s *ScriptedStore) Update(ctx context.Context, id string, patch image.Patch) (bool, error) {
	if err := s.enter("Update"); err != nil {
		return false, err
	}
	return s.inner.Update(ctx, id, patch)
}

func (s *ScriptedStore) Clear(ctx context.Context) error {
	if err := s.enter("Clear"); err != nil {
		return err
	}
	return s.inner.Clear(ctx)
}

func (s *ScriptedStore) Sync(ctx context.Context, local, remote []image.Record) ([]image.Record, error) {
	if err := s.enter("Sync"); err != nil {
		return nil, err
	}
	return s.inner.Sync(ctx, local, remote)
}

func (s *ScriptedStore) Capabilities() cachestore.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *ScriptedStore) Name() string { return "scripted" }

func (s *ScriptedStore) Close(ctx context.Context) error { return s.inner.Close(ctx) }

// NewFailingStore returns a store whose every operation fails with
// errors.ErrStorageUnavailable.
func NewFailingStore() *ScriptedStore {
	s := NewScriptedStore(nil)
	s.SetError(errors.WrapTransient(errors.ErrStorageUnavailable, "testutil", "FailingStore", "scripted failure"))
	return s
}

// CountingStore is a ScriptedStore that also implements cachestore.Counter.
type CountingStore struct {
	*ScriptedStore

	mu       sync.Mutex
	counters map[string]int64
}

var _ cachestore.Counter = (*CountingStore)(nil)

// NewCountingStore creates a store with exact counters.
func NewCountingStore(clock cachestore.Clock) *CountingStore {
	s := &CountingStore{ScriptedStore: NewScriptedStore(clock), counters: map[string]int64{}}
	s.SetCapabilities(cachestore.Capabilities{Counters: true})
	return s
}

func (s *CountingStore) Count(_ context.Context, key string) (int64, error) {
	if err := s.enter("Count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *CountingStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	if err := s.enter("Increment"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *CountingStore) Decrement(_ context.Context, key string, _ time.Duration) (int64, error) {
	if err := s.enter("Decrement"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = max(0, s.counters[key]-1)
	return s.counters[key], nil
}

// SetCount sets key to n.
func (s *CountingStore) SetCount(key string, n int64) {
	s.mu.Lock()
	s.counters[key] = n
	s.mu.Unlock()
}
