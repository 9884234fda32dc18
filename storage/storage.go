package storage

import (
	"context"
	"io"
	"time"

	"github.com/xmx0632/photoshow/image"
)

// Object describes one stored image object.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	// Metadata holds user metadata such as the prompt and tags.
	Metadata map[string]string
}

// Usage reports how much of the storage quota is used.
type Usage struct {
	UsedBytes    int64   `json:"usedBytes"`
	QuotaBytes   int64   `json:"quotaBytes"`
	Objects      int     `json:"objects"`
	UsedFraction float64 `json:"usedFraction"`
	// Warning is set once UsedFraction reaches the configured threshold.
	Warning bool `json:"warning"`
}

// ObjectStore stores image bytes.
//
// All implementations must be safe for concurrent use.
type ObjectStore interface {
	// List returns every object under prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Put stores size bytes from r at key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns a URL the browser can load the object from.
	URL(ctx context.Context, key string) (string, error)
	// Usage sums object sizes against the quota.
	Usage(ctx context.Context) (Usage, error)
}

// MetadataStore persists image records and their tags.
type MetadataStore interface {
	Upsert(ctx context.Context, record image.Record) error
	// Get returns errors.ErrKeyNotFound when id is unknown.
	Get(ctx context.Context, id string) (image.Record, error)
	// List returns all records, newest first.
	List(ctx context.Context) ([]image.Record, error)
	// Delete removes the record and its tag links.
	Delete(ctx context.Context, id string) error
	// SetTags replaces the tags of id.
	SetTags(ctx context.Context, id string, tags []string) error
}

// ComputeUsage fills the derived fields of a Usage.
func ComputeUsage(used, quota int64, objects int, warnFraction float64) Usage {
	u := Usage{UsedBytes: used, QuotaBytes: quota, Objects: objects}
	if quota > 0 {
		u.UsedFraction = float64(used) / float64(quota)
		u.Warning = warnFraction > 0 && u.UsedFraction >= warnFraction
	}
	return u
}
