// Package gallery wires the image cache, object store, metadata database,
// quota limiter and generation provider into the operations the HTTP API
// exposes.
package gallery

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/generation"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/imagecache"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/storage"
)

// DefaultExpireMinutes is the cache age after which a refresh is triggered.
const DefaultExpireMinutes = 60

// Deps are the collaborators of a Service. Metadata and Provider may be
// nil.
type Deps struct {
	Cache     *imagecache.Manager
	Refresher *imagecache.Refresher
	Source    imagecache.Source
	Objects   storage.ObjectStore
	Metadata  storage.MetadataStore
	Limiter   *generation.Limiter
	Provider  generation.Provider
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	// ExpireMinutes defaults to DefaultExpireMinutes.
	ExpireMinutes int
	// NewID names generated images; defaults to a random UUID.
	NewID func() string
	Clock func() time.Time
}

// Service implements the gallery operations.
type Service struct {
	d      Deps
	logger *slog.Logger
}

// New validates deps and creates a Service.
func New(d Deps) (*Service, error) {
	if d.Cache == nil || d.Refresher == nil || d.Source == nil || d.Objects == nil || d.Limiter == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "gallery", "New", "missing dependency")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ExpireMinutes <= 0 {
		d.ExpireMinutes = DefaultExpireMinutes
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.NewString() }
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Service{d: d, logger: d.Logger.With("component", "gallery")}, nil
}

// Images returns the cached gallery. A cold cache is populated before
// returning; an expired one is refreshed in the background.
func (s *Service) Images(ctx context.Context) imagecache.Status {
	if err := s.d.Refresher.EnsureInitialized(ctx); err != nil {
		s.logger.Warn("Initial cache population failed", "error", err)
	}
	st := s.d.Cache.Status(ctx, s.d.ExpireMinutes)
	if st.IsExpired && st.IsInitialized {
		s.d.Refresher.Trigger(ctx)
	}
	return st
}

// CacheStatus returns the cache as stored, without populating it.
// expireMinutes <= 0 uses the configured expiry.
func (s *Service) CacheStatus(ctx context.Context, expireMinutes int) imagecache.Status {
	if expireMinutes <= 0 {
		expireMinutes = s.d.ExpireMinutes
	}
	return s.d.Cache.Status(ctx, expireMinutes)
}

// Sync merges the client's local records with the remote listing and
// stores the result.
func (s *Service) Sync(ctx context.Context, local []map[string]any) ([]image.Record, error) {
	remote, err := s.d.Source.Records(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "gallery", "Sync", "list remote images")
	}
	merged, err := s.d.Cache.Sync(ctx, image.NormalizeAll(local), remote)
	if err != nil && merged == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("Sync stored in memory only", "error", err)
	}
	return merged, nil
}

// Refresh reloads the cache from the remote listing now.
func (s *Service) Refresh(ctx context.Context) ([]image.Record, error) {
	return s.d.Refresher.Refresh(ctx)
}

// RefreshStatus reports the background refresher.
func (s *Service) RefreshStatus() imagecache.RefreshStatus { return s.d.Refresher.Status() }

// GenerateRequest is the input of Generate.
type GenerateRequest struct {
	Prompt string   `json:"prompt"`
	Tags   []string `json:"tags"`
}

// GenerateResult is the output of Generate.
type GenerateResult struct {
	Image image.Record           `json:"image"`
	Limit generation.LimitStatus `json:"limit"`
}

// Generate creates an image from a prompt, stores it and counts it against
// today's quota. The quota is claimed before the provider is called and
// handed back if no image gets stored. It fails with
// errors.ErrQuotaExceeded once the quota is used up.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if s.d.Provider == nil {
		return GenerateResult{}, errors.WrapFatal(errors.ErrNotSupported, "gallery", "Generate", "no provider configured")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return GenerateResult{}, errors.WrapInvalid(errors.ErrInvalidData, "gallery", "Generate", "prompt is required")
	}

	claim, limit, err := s.d.Limiter.Reserve(ctx)
	if err != nil {
		s.d.Metrics.RecordLimitRejection()
		return GenerateResult{Limit: limit}, errors.WrapInvalid(errors.ErrQuotaExceeded, "gallery", "Generate", "daily limit reached")
	}

	res, err := s.d.Provider.Generate(ctx, prompt)
	if err != nil {
		claim.Release(ctx)
		s.d.Metrics.RecordGeneration("provider_error")
		return GenerateResult{}, err
	}
	info, err := generation.Inspect(res.Data)
	if err != nil {
		claim.Release(ctx)
		s.d.Metrics.RecordGeneration("invalid_image")
		return GenerateResult{}, errors.WrapInvalid(err, "gallery", "Generate", "inspect image")
	}

	tags := image.NewTags(req.Tags...)
	created := s.d.Clock().UTC().Format(time.RFC3339Nano)
	name := s.d.NewID() + info.Extension()

	obj, err := s.d.Objects.Put(ctx, name, bytes.NewReader(res.Data), int64(len(res.Data)), info.ContentType,
		map[string]string{
			"prompt":     prompt,
			"tags":       strings.Join(tags, ","),
			"created-at": created,
			"width":      strconv.Itoa(info.Width),
			"height":     strconv.Itoa(info.Height),
		})
	if err != nil {
		claim.Release(ctx)
		s.d.Metrics.RecordGeneration("store_error")
		return GenerateResult{}, err
	}

	url, err := s.d.Objects.URL(ctx, obj.Key)
	if err != nil {
		s.logger.Warn("Could not sign URL for new image", "key", obj.Key, "error", err)
	}
	rec := image.Finalize(image.Record{
		ID:            name,
		URL:           url,
		Prompt:        prompt,
		CreatedAt:     created,
		Tags:          tags,
		IsCloudImage:  true,
		CloudFileName: obj.Key,
	})

	// The object is stored; the remaining steps degrade to warnings.
	if s.d.Metadata != nil {
		if err := s.d.Metadata.Upsert(ctx, rec); err != nil {
			s.logger.Warn("Metadata upsert failed", "id", rec.ID, "error", err)
		}
	}
	if err := s.d.Cache.AddOrUpdate(ctx, rec); err != nil {
		s.logger.Warn("Cache not updated with new image", "id", rec.ID, "error", err)
	}

	s.d.Metrics.RecordGeneration("ok")
	s.logger.Info("Image generated", "id", rec.ID, "bytes", len(res.Data))
	return GenerateResult{Image: rec, Limit: s.d.Limiter.Check(ctx)}, nil
}

// Delete removes an image from the object store, the metadata database and
// the cache. It reports whether the image was known.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	rec, found := s.find(ctx, id)
	if !found && s.d.Metadata != nil {
		if r, err := s.d.Metadata.Get(ctx, id); err == nil {
			rec, found = r, true
		}
	}

	if found && rec.IsCloudImage && rec.CloudFileName != "" {
		if err := s.d.Objects.Delete(ctx, rec.CloudFileName); err != nil {
			return false, err
		}
	}
	if s.d.Metadata != nil {
		if err := s.d.Metadata.Delete(ctx, id); err != nil {
			return false, err
		}
	}
	removed, err := s.d.Cache.Remove(ctx, id)
	return found || removed, err
}

// SetTags replaces the tags of an image. It reports whether the image was
// known.
func (s *Service) SetTags(ctx context.Context, id string, tags []string) (image.Record, bool, error) {
	clean := image.NewTags(tags...)

	inMetadata := false
	if s.d.Metadata != nil {
		err := s.d.Metadata.SetTags(ctx, id, clean)
		switch {
		case err == nil:
			inMetadata = true
		case !errors.Is(err, errors.ErrKeyNotFound):
			return image.Record{}, false, err
		}
	}

	found, err := s.d.Cache.Update(ctx, id, image.TagsPatch(clean))
	if err != nil {
		return image.Record{}, false, err
	}
	if !found && !inMetadata {
		return image.Record{}, false, nil
	}
	rec, ok := s.find(ctx, id)
	if !ok && s.d.Metadata != nil {
		if r, err := s.d.Metadata.Get(ctx, id); err == nil {
			rec = r
		}
	}
	return rec, true, nil
}

// Usage reports object storage use against the quota.
func (s *Service) Usage(ctx context.Context) (storage.Usage, error) {
	return s.d.Objects.Usage(ctx)
}

// Limit reports today's generation quota.
func (s *Service) Limit(ctx context.Context) generation.LimitStatus {
	return s.d.Limiter.Check(ctx)
}

// ClearCache empties the image cache.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.d.Cache.Clear(ctx)
}

func (s *Service) find(ctx context.Context, id string) (image.Record, bool) {
	for _, r := range s.d.Cache.GetAll(ctx) {
		if r.ID == id {
			return r, true
		}
	}
	return image.Record{}, false
}
