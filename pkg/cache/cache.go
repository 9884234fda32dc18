// Package cache provides a generic, thread-safe TTL memory cache with
// always-on statistics and optional Prometheus metrics. photoshow uses it as
// the short-lived read layer in front of the backing stores.
package cache

import (
	"time"

	"github.com/xmx0632/photoshow/errors"
)

// Cache represents a generic cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found and not expired.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries, expired ones included until cleanup.
	Size() int

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close stops background cleanup.
	Close() error
}

// EvictCallback is called when an entry is evicted or deleted.
type EvictCallback[V any] func(key string, value V)

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
