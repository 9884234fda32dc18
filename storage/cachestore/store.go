// Package cachestore implements the backing stores under the image cache:
// a process-memory store with an optional JSON snapshot file, and a store
// on a NATS JetStream KeyValue bucket that falls back to an in-memory
// mirror whenever the bucket cannot be reached.
//
// Both satisfy Store. Only New branches on the configured backend.
package cachestore

import (
	"context"
	"time"

	"github.com/xmx0632/photoshow/image"
)

// Backend names accepted by New.
const (
	BackendFile       = "file"
	BackendExternalKV = "external-kv"
)

// Capabilities describes optional behavior of a Store.
type Capabilities struct {
	// ConcurrentReads is true when independent reads may run in parallel
	// and benefit from it.
	ConcurrentReads bool
	// Counters is true when the store implements Counter with exact counts.
	Counters bool
}

// Store is the backing store contract for the cached image envelope.
//
// All implementations are safe for concurrent use.
type Store interface {
	// Init replaces the image list, marks the store initialized and stamps
	// the last update time.
	Init(ctx context.Context, images []image.Record) error
	// GetAll returns the stored images, never nil.
	GetAll(ctx context.Context) ([]image.Record, error)
	IsInitialized(ctx context.Context) (bool, error)
	// LastUpdated returns the time of the last write; ok is false before
	// any write.
	LastUpdated(ctx context.Context) (t time.Time, ok bool, err error)
	// AddOrUpdate replaces the record with the same ID or appends it.
	AddOrUpdate(ctx context.Context, record image.Record) error
	// Remove reports whether a record was removed.
	Remove(ctx context.Context, id string) (bool, error)
	// Update applies patch to the record with id; false when not found.
	Update(ctx context.Context, id string, patch image.Patch) (bool, error)
	// Clear empties the list and resets the initialized flag.
	Clear(ctx context.Context) error
	// Sync merges local and remote with image.Merge and stores the result.
	Sync(ctx context.Context, local, remote []image.Record) ([]image.Record, error)

	Capabilities() Capabilities
	Name() string
	Close(ctx context.Context) error
}

// Counter is implemented by stores that keep exact counters with expiry.
type Counter interface {
	// Count returns the value of key, 0 when absent or expired.
	Count(ctx context.Context, key string) (int64, error)
	// Increment adds one to key, keeps it for ttl after this write and
	// returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decrement subtracts one from key, never going below zero, and
	// returns the new value.
	Decrement(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Envelope is the full cached aggregate. It is also the JSON shape of the
// file snapshot.
type Envelope struct {
	Images        []image.Record `json:"images"`
	LastUpdated   *time.Time     `json:"lastUpdated"`
	IsInitialized bool           `json:"isInitialized"`
}

// Clock returns the current time.
type Clock func() time.Time
