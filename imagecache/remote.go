package imagecache

import (
	"context"
	"log/slog"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/storage"
)

// Source lists the authoritative remote records.
type Source interface {
	Records(ctx context.Context) ([]image.Record, error)
}

// presignWorkers bounds concurrent URL signing during a listing.
const presignWorkers = 8

// RemoteSource builds records from the object store listing, enriched
// with what the metadata database knows about each object.
type RemoteSource struct {
	Objects  storage.ObjectStore
	Metadata storage.MetadataStore // optional
	Prefix   string
	Logger   *slog.Logger
}

// Records implements Source. Metadata failures degrade to object metadata
// only; listing failures are returned.
func (s *RemoteSource) Records(ctx context.Context) ([]image.Record, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := s.Objects.List(ctx, s.Prefix)
	if err != nil {
		return nil, err
	}

	known := map[string]image.Record{}
	if s.Metadata != nil {
		rows, err := s.Metadata.List(ctx)
		if err != nil {
			logger.Warn("Metadata unavailable, using object metadata only", "error", err)
		}
		for _, r := range rows {
			if r.CloudFileName != "" {
				known[r.CloudFileName] = r
			}
			known[r.ID] = r
		}
	}

	records := make([]image.Record, len(objects))
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presignWorkers)
	for i, obj := range objects {
		i, obj := i, obj
		g.Go(func() error {
			url, err := s.Objects.URL(gctx, obj.Key)
			if err != nil {
				mu.Lock()
				failed = append(failed, obj.Key)
				mu.Unlock()
			}
			rec := ObjectRecord(obj, url)
			if meta, ok := lookup(known, obj.Key); ok {
				rec = enrich(rec, meta)
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		logger.Warn("Could not sign some object URLs", "count", len(failed), "first", failed[0])
	}
	return records, nil
}

func lookup(known map[string]image.Record, key string) (image.Record, bool) {
	if r, ok := known[key]; ok {
		return r, true
	}
	r, ok := known[path.Base(key)]
	return r, ok
}

// ObjectRecord converts an object listing entry into a cloud record.
func ObjectRecord(obj storage.Object, url string) image.Record {
	raw := map[string]any{
		"cloudFileName": obj.Key,
		"url":           url,
		"isCloudImage":  true,
		"createdAt":     obj.LastModified,
	}
	if obj.LastModified.IsZero() {
		delete(raw, "createdAt")
	}
	for k, v := range obj.Metadata {
		switch k {
		case "prompt", "tags":
			raw[k] = v
		case "created-at", "createdat":
			raw["createdAt"] = v
		}
	}
	return image.Normalize(raw)
}

// enrich overlays the metadata database row on an object record. The
// object listing stays authoritative for the key and URL.
func enrich(rec, meta image.Record) image.Record {
	if meta.Prompt != "" && meta.Prompt != image.PlaceholderPrompt {
		rec.Prompt = meta.Prompt
	}
	if len(meta.Tags) > 0 {
		rec.Tags = append(image.Tags{}, meta.Tags...)
	}
	if meta.CreatedAt != "" {
		rec.CreatedAt = meta.CreatedAt
	}
	if meta.ID != "" {
		rec.ID = meta.ID
	}
	return rec
}
