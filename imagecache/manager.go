package imagecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/pkg/cache"
	"github.com/xmx0632/photoshow/pkg/fallback"
	"github.com/xmx0632/photoshow/storage/cachestore"
)

// DefaultMemoryTTL is how long values read from the store are reused.
const DefaultMemoryTTL = 10 * time.Second

const memKey = "v"

// Status is the cache snapshot returned to clients.
type Status struct {
	Images        []image.Record `json:"images"`
	IsInitialized bool           `json:"isInitialized"`
	IsExpired     bool           `json:"isExpired"`
	LastUpdated   *time.Time     `json:"lastUpdated"`
}

// stamp is a last-update time that may be absent.
type stamp struct {
	t  time.Time
	ok bool
}

func (s stamp) ptr() *time.Time {
	if !s.ok {
		return nil
	}
	t := s.t
	return &t
}

// snapshot holds the three cached values together.
type snapshot struct {
	images      []image.Record
	initialized bool
	updated     stamp
}

// Options configures a Manager.
type Options struct {
	// MemoryTTL defaults to DefaultMemoryTTL.
	MemoryTTL time.Duration
	Logger    *slog.Logger
	// Registry, when set, receives core metrics and memory layer metrics.
	Registry *metric.MetricsRegistry
	Clock    cachestore.Clock
}

// Manager is the cache facade used by the HTTP layer and the refresher.
type Manager struct {
	store   cachestore.Store
	logger  *slog.Logger
	metrics *metric.Metrics
	now     cachestore.Clock

	images      cache.Cache[[]image.Record]
	initialized cache.Cache[bool]
	updated     cache.Cache[stamp]

	// mu guards lastKnown and gen. gen counts invalidations so a store
	// read that overlapped a write does not refill the memory layer.
	mu        sync.RWMutex
	lastKnown *snapshot
	gen       uint64
}

// NewManager wraps store with a memory layer.
func NewManager(store cachestore.Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "imagecache", "NewManager", "store is required")
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = DefaultMemoryTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	m := &Manager{
		store:  store,
		logger: opts.Logger.With("component", "imagecache", "backend", store.Name()),
		now:    opts.Clock,
	}
	if opts.Registry != nil {
		m.metrics = opts.Registry.CoreMetrics()
	}

	var err error
	if m.images, err = newLayer[[]image.Record](opts, "images"); err != nil {
		return nil, err
	}
	if m.initialized, err = newLayer[bool](opts, "initialized"); err != nil {
		return nil, err
	}
	if m.updated, err = newLayer[stamp](opts, "last_updated"); err != nil {
		return nil, err
	}
	return m, nil
}

func newLayer[V any](opts Options, name string) (cache.Cache[V], error) {
	options := []cache.Option[V]{cache.WithClock[V](cache.Clock(opts.Clock))}
	if opts.Registry != nil {
		options = append(options, cache.WithMetrics[V](opts.Registry, "imagecache_"+name))
	}
	// Only three keys ever live here, so expired entries are dropped on Get.
	c, err := cache.NewTTL[V](context.Background(), opts.MemoryTTL, 0, options...)
	if err != nil {
		return nil, errors.Wrap(err, "imagecache", "NewManager", fmt.Sprintf("create %s layer", name))
	}
	return c, nil
}

// Store returns the backing store.
func (m *Manager) Store() cachestore.Store { return m.store }

// Status returns the cached images with their freshness. It never fails.
// isExpired is true when the last update is unknown or older than
// expireMinutes.
func (m *Manager) Status(ctx context.Context, expireMinutes int) Status {
	snap, servedBy, err := fallback.FirstOf(ctx,
		fallback.Tier[snapshot]{Name: metric.TierMemory, Read: m.memorySnapshot},
		fallback.Tier[snapshot]{Name: metric.TierStore, Read: m.storeSnapshot},
		fallback.Tier[snapshot]{Name: metric.TierStale, Read: m.staleSnapshot},
		fallback.Value(metric.TierDefault, snapshot{images: []image.Record{}}),
	)
	m.metrics.RecordCacheRead(servedBy)
	if servedBy == metric.TierStale || servedBy == metric.TierDefault {
		m.logger.Warn("Cache status served without the backing store", "tier", servedBy, "error", err)
	}

	return Status{
		Images:        cloneRecords(snap.images),
		IsInitialized: snap.initialized,
		IsExpired:     m.expired(snap.updated, expireMinutes),
		LastUpdated:   snap.updated.ptr(),
	}
}

func (m *Manager) expired(updated stamp, expireMinutes int) bool {
	if !updated.ok {
		return true
	}
	return m.now().Sub(updated.t) > time.Duration(expireMinutes)*time.Minute
}

// GetAll returns the cached images. It never fails.
func (m *Manager) GetAll(ctx context.Context) []image.Record {
	images, _, _ := fallback.FirstOf(ctx,
		fallback.Tier[[]image.Record]{Name: metric.TierMemory, Read: memoryRead(m.images)},
		fallback.Tier[[]image.Record]{Name: metric.TierStore, Read: func(ctx context.Context) ([]image.Record, error) {
			gen := m.generation()
			images, err := m.store.GetAll(ctx)
			if err != nil {
				return nil, err
			}
			m.fill(gen, func() { m.images.Set(memKey, images) })
			return images, nil
		}},
		fallback.Tier[[]image.Record]{Name: metric.TierStale, Read: staleRead(m, func(s *snapshot) []image.Record { return s.images })},
		fallback.Value(metric.TierDefault, []image.Record{}),
	)
	return cloneRecords(images)
}

// IsInitialized reports whether the cache has been populated. Errors read
// as false.
func (m *Manager) IsInitialized(ctx context.Context) bool {
	ok, _, _ := fallback.FirstOf(ctx,
		fallback.Tier[bool]{Name: metric.TierMemory, Read: memoryRead(m.initialized)},
		fallback.Tier[bool]{Name: metric.TierStore, Read: func(ctx context.Context) (bool, error) {
			gen := m.generation()
			ok, err := m.store.IsInitialized(ctx)
			if err != nil {
				return false, err
			}
			m.fill(gen, func() { m.initialized.Set(memKey, ok) })
			return ok, nil
		}},
		fallback.Tier[bool]{Name: metric.TierStale, Read: staleRead(m, func(s *snapshot) bool { return s.initialized })},
		fallback.Value(metric.TierDefault, false),
	)
	return ok
}

// LastUpdated returns the time of the last cache write, if known.
func (m *Manager) LastUpdated(ctx context.Context) (time.Time, bool) {
	st, _, _ := fallback.FirstOf(ctx,
		fallback.Tier[stamp]{Name: metric.TierMemory, Read: memoryRead(m.updated)},
		fallback.Tier[stamp]{Name: metric.TierStore, Read: m.storeStamp},
		fallback.Tier[stamp]{Name: metric.TierStale, Read: staleRead(m, func(s *snapshot) stamp { return s.updated })},
		fallback.Value(metric.TierDefault, stamp{}),
	)
	return st.t, st.ok
}

var errMemoryMiss = errors.New("not in memory layer")

func memoryRead[V any](c cache.Cache[V]) func(context.Context) (V, error) {
	return func(context.Context) (V, error) {
		v, ok := c.Get(memKey)
		if !ok {
			var zero V
			return zero, errMemoryMiss
		}
		return v, nil
	}
}

var errNoLastKnown = errors.New("no successful store read yet")

func staleRead[V any](m *Manager, pick func(*snapshot) V) func(context.Context) (V, error) {
	return func(context.Context) (V, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.lastKnown == nil {
			var zero V
			return zero, errNoLastKnown
		}
		return pick(m.lastKnown), nil
	}
}

func (m *Manager) memorySnapshot(context.Context) (snapshot, error) {
	images, ok1 := m.images.Get(memKey)
	initialized, ok2 := m.initialized.Get(memKey)
	updated, ok3 := m.updated.Get(memKey)
	if !ok1 || !ok2 || !ok3 {
		return snapshot{}, errMemoryMiss
	}
	return snapshot{images: images, initialized: initialized, updated: updated}, nil
}

func (m *Manager) staleSnapshot(context.Context) (snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastKnown == nil {
		return snapshot{}, errNoLastKnown
	}
	return *m.lastKnown, nil
}

func (m *Manager) storeStamp(ctx context.Context) (stamp, error) {
	gen := m.generation()
	t, ok, err := m.store.LastUpdated(ctx)
	if err != nil {
		return stamp{}, err
	}
	st := stamp{t: t, ok: ok}
	m.fill(gen, func() { m.updated.Set(memKey, st) })
	return st, nil
}

// storeSnapshot reads all three values from the store, in parallel when
// the store benefits from it, and refills the memory layer.
func (m *Manager) storeSnapshot(ctx context.Context) (snapshot, error) {
	gen := m.generation()
	var snap snapshot

	readImages := func(ctx context.Context) error {
		images, err := m.store.GetAll(ctx)
		snap.images = images
		return err
	}
	readInitialized := func(ctx context.Context) error {
		ok, err := m.store.IsInitialized(ctx)
		snap.initialized = ok
		return err
	}
	readUpdated := func(ctx context.Context) error {
		t, ok, err := m.store.LastUpdated(ctx)
		snap.updated = stamp{t: t, ok: ok}
		return err
	}

	if m.store.Capabilities().ConcurrentReads {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return readImages(gctx) })
		g.Go(func() error { return readInitialized(gctx) })
		g.Go(func() error { return readUpdated(gctx) })
		if err := g.Wait(); err != nil {
			return snapshot{}, err
		}
	} else {
		for _, read := range []func(context.Context) error{readImages, readInitialized, readUpdated} {
			if err := read(ctx); err != nil {
				return snapshot{}, err
			}
		}
	}
	if snap.images == nil {
		snap.images = []image.Record{}
	}

	m.fill(gen, func() {
		m.images.Set(memKey, snap.images)
		m.initialized.Set(memKey, snap.initialized)
		m.updated.Set(memKey, snap.updated)
		last := snap
		m.lastKnown = &last
	})
	return snap, nil
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// fill runs set only if no write has invalidated the memory layer since
// gen was taken. The value read is still returned to the caller.
func (m *Manager) fill(gen uint64, set func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	set()
}

// invalidate drops the memory layer.
func (m *Manager) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	_ = m.images.Clear()
	_ = m.initialized.Clear()
	_ = m.updated.Clear()
}

// Init replaces the cached list and marks the cache initialized.
func (m *Manager) Init(ctx context.Context, images []image.Record) error {
	defer m.invalidate()
	return m.store.Init(ctx, images)
}

// AddOrUpdate inserts or replaces one record.
func (m *Manager) AddOrUpdate(ctx context.Context, record image.Record) error {
	defer m.invalidate()
	return m.store.AddOrUpdate(ctx, image.Finalize(record))
}

// Remove deletes the record with id.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	defer m.invalidate()
	return m.store.Remove(ctx, id)
}

// Update applies patch to the record with id.
func (m *Manager) Update(ctx context.Context, id string, patch image.Patch) (bool, error) {
	defer m.invalidate()
	return m.store.Update(ctx, id, patch)
}

// Clear empties the cache and resets the initialized flag.
func (m *Manager) Clear(ctx context.Context) error {
	defer m.invalidate()
	return m.store.Clear(ctx)
}

// Sync merges local and remote and stores the result.
func (m *Manager) Sync(ctx context.Context, local, remote []image.Record) ([]image.Record, error) {
	defer m.invalidate()
	return m.store.Sync(ctx, local, remote)
}

// Close stops the memory layer and closes the store.
func (m *Manager) Close(ctx context.Context) error {
	_ = m.images.Close()
	_ = m.initialized.Close()
	_ = m.updated.Close()
	return m.store.Close(ctx)
}

func cloneRecords(in []image.Record) []image.Record {
	out := make([]image.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
