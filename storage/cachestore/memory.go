package cachestore

import (
	"slices"
	"sync"
	"time"

	"github.com/xmx0632/photoshow/image"
)

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// memoryState holds one envelope and a set of expiring counters in process
// memory. It backs FileStore and is the fallback mirror of KVStore.
type memoryState struct {
	mu          sync.RWMutex
	images      []image.Record
	lastUpdated time.Time
	initialized bool
	populated   bool // any write or observation happened
	counters    map[string]counterEntry
	now         Clock
}

func newMemoryState(now Clock) *memoryState {
	if now == nil {
		now = time.Now
	}
	return &memoryState{
		images:   []image.Record{},
		counters: make(map[string]counterEntry),
		now:      now,
	}
}

func cloneRecords(in []image.Record) []image.Record {
	out := make([]image.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func (m *memoryState) touch() {
	m.lastUpdated = m.now()
	m.populated = true
}

func (m *memoryState) init(images []image.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = cloneRecords(images)
	m.initialized = true
	m.touch()
}

func (m *memoryState) getAll() []image.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecords(m.images)
}

func (m *memoryState) isInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *memoryState) lastUpdatedAt() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdated, !m.lastUpdated.IsZero()
}

func (m *memoryState) isPopulated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.populated
}

func (m *memoryState) addOrUpdate(r image.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = upsert(m.images, r)
	m.touch()
}

func (m *memoryState) remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed bool
	m.images, removed = without(m.images, id)
	if removed {
		m.touch()
	}
	return removed
}

func (m *memoryState) update(id string, patch image.Patch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found bool
	m.images, found = patched(m.images, id, patch)
	if found {
		m.touch()
	}
	return found
}

func (m *memoryState) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = []image.Record{}
	m.initialized = false
	m.touch()
}

// observe records values read from a primary store without stamping.
func (m *memoryState) observe(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env.Images != nil {
		m.images = cloneRecords(env.Images)
	}
	if env.LastUpdated != nil {
		m.lastUpdated = *env.LastUpdated
	}
	m.initialized = env.IsInitialized
	m.populated = true
}

// observeImages, observeInitialized and observeLastUpdated record one
// field read from the primary backend.
func (m *memoryState) observeImages(images []image.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = cloneRecords(images)
	m.populated = true
}

func (m *memoryState) observeInitialized(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = ok
	m.populated = true
}

func (m *memoryState) observeLastUpdated(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUpdated = t
	m.populated = true
}

func (m *memoryState) envelope() Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env := Envelope{
		Images:        cloneRecords(m.images),
		IsInitialized: m.initialized,
	}
	if !m.lastUpdated.IsZero() {
		t := m.lastUpdated
		env.LastUpdated = &t
	}
	return env
}

func (m *memoryState) count(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.counters[key]
	if !ok {
		return 0
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.counters, key)
		return 0
	}
	return entry.value
}

func (m *memoryState) increment(key string, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry := m.counters[key]
	if !now.Before(entry.expiresAt) {
		entry.value = 0
	}
	entry.value++
	entry.expiresAt = now.Add(ttl)
	m.counters[key] = entry
	return entry.value
}

func (m *memoryState) decrement(key string, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry := m.counters[key]
	if !now.Before(entry.expiresAt) {
		entry.value = 0
	}
	entry.value = max(0, entry.value-1)
	entry.expiresAt = now.Add(ttl)
	m.counters[key] = entry
	return entry.value
}

func (m *memoryState) setCount(key string, value int64, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] = counterEntry{value: value, expiresAt: m.now().Add(ttl)}
}

// upsert replaces the record with the same ID in place or appends it.
func upsert(images []image.Record, r image.Record) []image.Record {
	r = r.Clone()
	if r.ID != "" {
		if i := slices.IndexFunc(images, func(x image.Record) bool { return x.ID == r.ID }); i >= 0 {
			out := slices.Clone(images)
			out[i] = r
			return out
		}
	}
	return append(slices.Clone(images), r)
}

func without(images []image.Record, id string) ([]image.Record, bool) {
	if id == "" {
		return images, false
	}
	out := slices.DeleteFunc(slices.Clone(images), func(x image.Record) bool { return x.ID == id })
	return out, len(out) != len(images)
}

func patched(images []image.Record, id string, patch image.Patch) ([]image.Record, bool) {
	if id == "" {
		return images, false
	}
	i := slices.IndexFunc(images, func(x image.Record) bool { return x.ID == id })
	if i < 0 {
		return images, false
	}
	out := slices.Clone(images)
	out[i] = patch.Apply(out[i])
	return out, true
}
