package objectstore

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/storage"
)

// Store is a storage.ObjectStore on an S3-compatible bucket.
type Store struct {
	client  *minio.Client
	cfg     Config
	urls    *expirable.LRU[string, string]
	logger  *slog.Logger
	metrics *storeMetrics
}

var _ storage.ObjectStore = (*Store)(nil)

// NewClient creates the minio client. No request is made.
func NewClient(cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "objectstore", "NewClient", "create minio client")
	}
	return client, nil
}

// New wraps client in a Store. It does not touch the network; call
// EnsureBucket before first use.
func New(client *minio.Client, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "objectstore", "New", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URLCacheSize <= 0 {
		cfg.URLCacheSize = 4096
	}

	metrics, err := newStoreMetrics(registry, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:  client,
		cfg:     cfg,
		urls:    expirable.NewLRU[string, string](cfg.URLCacheSize, nil, cfg.urlCacheTTL()),
		logger:  logger.With("component", "objectstore", "bucket", cfg.Bucket),
		metrics: metrics,
	}, nil
}

// Open creates the client, the Store and the bucket when missing.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(client, cfg, logger, registry)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return errors.WrapTransient(err, "objectstore", "EnsureBucket", "check bucket")
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return errors.WrapTransient(err, "objectstore", "EnsureBucket", "create bucket")
	}
	s.logger.Info("Created bucket")
	return nil
}

// Key returns the full object key of name.
func (s *Store) Key(name string) string {
	if strings.HasPrefix(name, s.cfg.Prefix) {
		return name
	}
	return s.cfg.Prefix + name
}

// Prefix returns the key prefix of image objects.
func (s *Store) Prefix() string { return s.cfg.Prefix }

// List implements storage.ObjectStore.
func (s *Store) List(ctx context.Context, prefix string) (objects []storage.Object, err error) {
	defer func(start time.Time) { s.metrics.observe("list", start, err) }(time.Now())

	ch := s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	})

	objects = []storage.Object{}
	for info := range ch {
		if info.Err != nil {
			return nil, errors.WrapTransient(info.Err, "objectstore", "List", "list objects")
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		objects = append(objects, storage.Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
			Metadata:     decodeMetadata(info.UserMetadata),
		})
	}
	return objects, nil
}

// Put implements storage.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string,
	metadata map[string]string) (obj storage.Object, err error) {
	defer func(start time.Time) { s.metrics.observe("put", start, err) }(time.Now())

	key = s.Key(key)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: encodeMetadata(metadata),
	})
	if err != nil {
		return storage.Object{}, errors.WrapTransient(err, "objectstore", "Put", "put object")
	}

	modified := info.LastModified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	return storage.Object{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: modified,
		Metadata:     metadata,
	}, nil
}

// Delete implements storage.ObjectStore.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.metrics.observe("delete", start, err) }(time.Now())

	key = s.Key(key)
	s.urls.Remove(key)
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return errors.WrapTransient(err, "objectstore", "Delete", "remove object")
	}
	return nil
}

// URL implements storage.ObjectStore with a presigned GET URL. URLs are
// cached for most of their validity.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	key = s.Key(key)
	if u, ok := s.urls.Get(key); ok {
		return u, nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.URLExpiry, url.Values{})
	if err != nil {
		return "", errors.WrapTransient(err, "objectstore", "URL", "presign object")
	}

	signed := u.String()
	s.urls.Add(key, signed)
	return signed, nil
}

// Usage implements storage.ObjectStore.
func (s *Store) Usage(ctx context.Context) (storage.Usage, error) {
	objects, err := s.List(ctx, s.cfg.Prefix)
	if err != nil {
		return storage.Usage{}, err
	}
	var used int64
	for _, o := range objects {
		used += o.Size
	}
	return storage.ComputeUsage(used, s.cfg.QuotaBytes, len(objects), s.cfg.WarnFraction), nil
}

const metaHeaderPrefix = "x-amz-meta-"

// encodeMetadata escapes values so non-ASCII prompts survive HTTP headers.
func encodeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = url.QueryEscape(v)
	}
	return out
}

func decodeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, metaHeaderPrefix)
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		out[k] = v
	}
	return out
}
