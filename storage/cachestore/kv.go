package cachestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/natsclient"
	"github.com/xmx0632/photoshow/pkg/fallback"
)

// Tier names reported in logs and metrics.
const (
	tierKV      = "kv"
	tierMirror  = "mirror"
	tierDefault = "default"
)

// Bucket is the subset of natsclient.KVStore used by KVStore.
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
}

var _ Bucket = (*natsclient.KVStore)(nil)

// Buckets are the two buckets a KVStore writes to. Envelope keys expire with
// the envelope TTL, counters with the counter retention.
type Buckets struct {
	Envelope Bucket
	Counters Bucket
}

// Connector opens the buckets. It is called lazily and at most once at a
// time.
type Connector func(ctx context.Context) (Buckets, error)

// KVOptions configures a KVStore.
type KVOptions struct {
	// Prefix namespaces the envelope keys, e.g. "photoshow.cache".
	Prefix string
	// ConnectTimeout bounds one Connector call.
	ConnectTimeout time.Duration
	// ReconnectCooldown is how long the store serves from the mirror after
	// a failed connection before trying again.
	ReconnectCooldown time.Duration
	Logger            *slog.Logger
	Metrics           *metric.Metrics
	Clock             Clock
}

// KVStore stores the envelope in a JetStream KeyValue bucket. Each envelope
// field is its own key under Prefix. Reads fall back from the bucket to an
// in-memory mirror to defaults and never fail. Writes are applied to the
// bucket and the mirror; when the bucket fails the mirror still changes
// and a transient ErrStorageUnavailable is returned.
type KVStore struct {
	connect Connector
	opts    KVOptions
	mirror  *memoryState
	logger  *slog.Logger

	group      singleflight.Group
	mu         sync.Mutex
	buckets    *Buckets
	retryAfter time.Time
}

var (
	_ Store   = (*KVStore)(nil)
	_ Counter = (*KVStore)(nil)
)

// NewKVStore creates a KVStore. No connection is made until first use.
func NewKVStore(connect Connector, opts KVOptions) *KVStore {
	if opts.Prefix == "" {
		opts.Prefix = "photoshow.cache"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReconnectCooldown <= 0 {
		opts.ReconnectCooldown = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &KVStore{
		connect: connect,
		opts:    opts,
		mirror:  newMemoryState(opts.Clock),
		logger:  opts.Logger.With("component", "cachestore", "backend", BackendExternalKV),
	}
}

func (s *KVStore) key(field string) string {
	return s.opts.Prefix + "." + field
}

// conn returns the memoized buckets, connecting when needed. Concurrent
// callers share one connection attempt.
func (s *KVStore) conn(ctx context.Context) (Buckets, error) {
	s.mu.Lock()
	if s.buckets != nil {
		b := *s.buckets
		s.mu.Unlock()
		return b, nil
	}
	if now := s.opts.Clock(); now.Before(s.retryAfter) {
		s.mu.Unlock()
		return Buckets{}, errors.WrapTransient(errors.ErrStorageUnavailable, "KVStore", "conn", "wait for reconnect cooldown")
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("connect", func() (any, error) {
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConnectTimeout)
		defer cancel()

		b, err := s.connect(connectCtx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.retryAfter = s.opts.Clock().Add(s.opts.ReconnectCooldown)
			s.logger.Warn("External KV unavailable, serving from memory mirror",
				"error", err, "retry_after", s.opts.ReconnectCooldown)
			return Buckets{}, errors.WrapTransient(err, "KVStore", "conn", "connect")
		}
		s.buckets = &b
		s.logger.Info("Connected to external KV", "prefix", s.opts.Prefix)
		return b, nil
	})
	if err != nil {
		return Buckets{}, err
	}
	return v.(Buckets), nil
}

func (s *KVStore) fellBack(operation, servedBy string, err error) {
	if servedBy == tierKV {
		return
	}
	s.opts.Metrics.RecordStoreFallback(BackendExternalKV, operation)
	s.logger.Debug("KV read served by fallback", "operation", operation, "tier", servedBy, "error", err)
}

func (s *KVStore) writeFailed(operation string, err error) error {
	s.opts.Metrics.RecordStoreWriteError(BackendExternalKV, operation)
	s.logger.Warn("KV write failed, applied to memory mirror only", "operation", operation, "error", err)
	return errors.WrapTransient(errors.Join(errors.ErrStorageUnavailable, err), "KVStore", operation, "write to external KV")
}

// mirrorTier reads from the mirror once it has seen data.
func mirrorTier[T any](s *KVStore, read func() T) fallback.Tier[T] {
	return fallback.Tier[T]{Name: tierMirror, Read: func(context.Context) (T, error) {
		if !s.mirror.isPopulated() {
			var zero T
			return zero, errMirrorEmpty
		}
		return read(), nil
	}}
}

// Primary reads, each a tier on its own.

func (s *KVStore) readImages(ctx context.Context) ([]image.Record, error) {
	b, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := b.Envelope.Get(ctx, s.key("images"))
	if natsclient.IsKVNotFoundError(err) {
		s.mirror.observeImages(nil)
		return []image.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	var images []image.Record
	if err := json.Unmarshal(entry.Value, &images); err != nil {
		return nil, errors.WrapInvalid(err, "KVStore", "readImages", "decode images")
	}
	if images == nil {
		images = []image.Record{}
	}
	s.mirror.observeImages(images)
	return images, nil
}

func (s *KVStore) readInitialized(ctx context.Context) (bool, error) {
	b, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	entry, err := b.Envelope.Get(ctx, s.key("initialized"))
	if natsclient.IsKVNotFoundError(err) {
		s.mirror.observeInitialized(false)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := strconv.ParseBool(string(entry.Value))
	if err != nil {
		return false, err
	}
	s.mirror.observeInitialized(ok)
	return ok, nil
}

type stamp struct {
	t  time.Time
	ok bool
}

func (s *KVStore) readLastUpdated(ctx context.Context) (stamp, error) {
	b, err := s.conn(ctx)
	if err != nil {
		return stamp{}, err
	}
	entry, err := b.Envelope.Get(ctx, s.key("last_updated"))
	if natsclient.IsKVNotFoundError(err) {
		s.mirror.observeLastUpdated(time.Time{})
		return stamp{}, nil
	}
	if err != nil {
		return stamp{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(entry.Value))
	if err != nil {
		return stamp{}, errors.WrapInvalid(err, "KVStore", "readLastUpdated", "parse timestamp")
	}
	s.mirror.observeLastUpdated(t)
	return stamp{t: t, ok: true}, nil
}

// GetAll implements Store: KV, then mirror, then an empty list.
func (s *KVStore) GetAll(ctx context.Context) ([]image.Record, error) {
	images, servedBy, err := fallback.FirstOf(ctx,
		fallback.Tier[[]image.Record]{Name: tierKV, Read: s.readImages},
		mirrorTier(s, s.mirror.getAll),
		fallback.Value(tierDefault, []image.Record{}),
	)
	s.fellBack("get_all", servedBy, err)
	return images, nil
}

// IsInitialized implements Store: KV, then mirror, then false.
func (s *KVStore) IsInitialized(ctx context.Context) (bool, error) {
	ok, servedBy, err := fallback.FirstOf(ctx,
		fallback.Tier[bool]{Name: tierKV, Read: s.readInitialized},
		mirrorTier(s, s.mirror.isInitialized),
		fallback.Value(tierDefault, false),
	)
	s.fellBack("is_initialized", servedBy, err)
	return ok, nil
}

// LastUpdated implements Store: KV, then mirror, then absent.
func (s *KVStore) LastUpdated(ctx context.Context) (time.Time, bool, error) {
	st, servedBy, err := fallback.FirstOf(ctx,
		fallback.Tier[stamp]{Name: tierKV, Read: s.readLastUpdated},
		mirrorTier(s, func() stamp {
			t, ok := s.mirror.lastUpdatedAt()
			return stamp{t: t, ok: ok}
		}),
		fallback.Value(tierDefault, stamp{}),
	)
	s.fellBack("last_updated", servedBy, err)
	return st.t, st.ok, nil
}

func (s *KVStore) putImages(ctx context.Context, b Buckets, images []image.Record) error {
	data, err := json.Marshal(images)
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "putImages", "encode images")
	}
	_, err = b.Envelope.Put(ctx, s.key("images"), data)
	return err
}

func (s *KVStore) putMeta(ctx context.Context, b Buckets, initialized *bool) error {
	if initialized != nil {
		if _, err := b.Envelope.Put(ctx, s.key("initialized"), []byte(strconv.FormatBool(*initialized))); err != nil {
			return err
		}
	}
	now := s.opts.Clock().UTC().Format(time.RFC3339Nano)
	_, err := b.Envelope.Put(ctx, s.key("last_updated"), []byte(now))
	return err
}

// mutateImages applies fn to the stored list with compare-and-swap.
func (s *KVStore) mutateImages(ctx context.Context, b Buckets, fn func([]image.Record) ([]image.Record, bool)) (bool, error) {
	var changed bool
	err := b.Envelope.UpdateWithRetry(ctx, s.key("images"), func(current []byte) ([]byte, error) {
		images := []image.Record{}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &images); err != nil {
				return nil, errors.WrapInvalid(err, "KVStore", "mutateImages", "decode images")
			}
		}
		var next []image.Record
		next, changed = fn(images)
		return json.Marshal(next)
	})
	return changed, err
}

// Init implements Store.
func (s *KVStore) Init(ctx context.Context, images []image.Record) error {
	if images == nil {
		images = []image.Record{}
	}
	s.mirror.init(images)

	b, err := s.conn(ctx)
	if err == nil {
		initialized := true
		if err = s.putImages(ctx, b, images); err == nil {
			err = s.putMeta(ctx, b, &initialized)
		}
	}
	if err != nil {
		return s.writeFailed("init", err)
	}
	return nil
}

// AddOrUpdate implements Store.
func (s *KVStore) AddOrUpdate(ctx context.Context, record image.Record) error {
	s.mirror.addOrUpdate(record)

	b, err := s.conn(ctx)
	if err == nil {
		_, err = s.mutateImages(ctx, b, func(images []image.Record) ([]image.Record, bool) {
			return upsert(images, record), true
		})
		if err == nil {
			err = s.putMeta(ctx, b, nil)
		}
	}
	if err != nil {
		return s.writeFailed("add_or_update", err)
	}
	return nil
}

// Remove implements Store.
func (s *KVStore) Remove(ctx context.Context, id string) (bool, error) {
	mirrored := s.mirror.remove(id)

	b, err := s.conn(ctx)
	if err != nil {
		return mirrored, s.writeFailed("remove", err)
	}
	removed, err := s.mutateImages(ctx, b, func(images []image.Record) ([]image.Record, bool) {
		return without(images, id)
	})
	if err == nil && removed {
		err = s.putMeta(ctx, b, nil)
	}
	if err != nil {
		return mirrored, s.writeFailed("remove", err)
	}
	return removed, nil
}

// Update implements Store.
func (s *KVStore) Update(ctx context.Context, id string, patch image.Patch) (bool, error) {
	mirrored := s.mirror.update(id, patch)

	b, err := s.conn(ctx)
	if err != nil {
		return mirrored, s.writeFailed("update", err)
	}
	found, err := s.mutateImages(ctx, b, func(images []image.Record) ([]image.Record, bool) {
		return patched(images, id, patch)
	})
	if err == nil && found {
		err = s.putMeta(ctx, b, nil)
	}
	if err != nil {
		return mirrored, s.writeFailed("update", err)
	}
	return found, nil
}

// Clear implements Store.
func (s *KVStore) Clear(ctx context.Context) error {
	s.mirror.clear()

	b, err := s.conn(ctx)
	if err == nil {
		initialized := false
		if err = s.putImages(ctx, b, []image.Record{}); err == nil {
			err = s.putMeta(ctx, b, &initialized)
		}
	}
	if err != nil {
		return s.writeFailed("clear", err)
	}
	return nil
}

// Sync implements Store. The merged list is returned even when the write
// only reached the mirror.
func (s *KVStore) Sync(ctx context.Context, local, remote []image.Record) ([]image.Record, error) {
	merged := image.Merge(local, remote)
	return cloneRecords(merged), s.Init(ctx, merged)
}

// Count implements Counter: KV, then mirror, then 0.
func (s *KVStore) Count(ctx context.Context, key string) (int64, error) {
	n, servedBy, err := fallback.FirstOf(ctx,
		fallback.Tier[int64]{Name: tierKV, Read: func(ctx context.Context) (int64, error) {
			b, err := s.conn(ctx)
			if err != nil {
				return 0, err
			}
			entry, err := b.Counters.Get(ctx, key)
			if natsclient.IsKVNotFoundError(err) {
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			return parseCount(entry.Value)
		}},
		fallback.Tier[int64]{Name: tierMirror, Read: func(context.Context) (int64, error) {
			return s.mirror.count(key), nil
		}},
	)
	s.fellBack("count", servedBy, err)
	return n, nil
}

// Increment implements Counter with a compare-and-swap update so concurrent
// increments from any process are never lost. The bucket TTL gives the
// key its retention; every write starts a new revision and so a new
// retention window.
func (s *KVStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	b, err := s.conn(ctx)
	if err == nil {
		var next int64
		err = b.Counters.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
			n, err := parseCount(current)
			if err != nil {
				return nil, err
			}
			next = n + 1
			return []byte(strconv.FormatInt(next, 10)), nil
		})
		if err == nil {
			s.mirror.setCount(key, next, ttl)
			return next, nil
		}
	}
	return s.mirror.increment(key, ttl), s.writeFailed("increment", err)
}

// Decrement implements Counter.
func (s *KVStore) Decrement(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	b, err := s.conn(ctx)
	if err == nil {
		var next int64
		err = b.Counters.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
			n, err := parseCount(current)
			if err != nil {
				return nil, err
			}
			next = max(0, n-1)
			return []byte(strconv.FormatInt(next, 10)), nil
		})
		if err == nil {
			s.mirror.setCount(key, next, ttl)
			return next, nil
		}
	}
	return s.mirror.decrement(key, ttl), s.writeFailed("decrement", err)
}

func parseCount(data []byte) (int64, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.WrapInvalid(errors.Join(errors.ErrDataCorrupted, err), "KVStore", "parseCount", "parse counter")
	}
	return n, nil
}

// Capabilities implements Store.
func (s *KVStore) Capabilities() Capabilities {
	return Capabilities{ConcurrentReads: true, Counters: true}
}

// Name implements Store.
func (s *KVStore) Name() string { return BackendExternalKV }

// Connected reports whether the buckets have been opened.
func (s *KVStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets != nil
}

// Close implements Store. The NATS client is owned by the caller.
func (s *KVStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = nil
	return nil
}
