package cachestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/natsclient"
	"github.com/xmx0632/photoshow/pkg/retry"
)

// Config selects and configures the backing store.
type Config struct {
	Backend      string `json:"backend"`
	SnapshotPath string `json:"snapshot_path"`

	Bucket            string        `json:"bucket"`
	CounterBucket     string        `json:"counter_bucket"`
	Prefix            string        `json:"prefix"`
	EnvelopeTTL       time.Duration `json:"envelope_ttl"`
	CounterTTL        time.Duration `json:"counter_ttl"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	ConnectAttempts   int           `json:"connect_attempts"`
	ReconnectCooldown time.Duration `json:"reconnect_cooldown"`
}

// DefaultConfig returns the file backend with external-kv defaults filled in.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendFile,
		SnapshotPath:      "data/cache.json",
		Bucket:            "photoshow_cache",
		CounterBucket:     "photoshow_counters",
		Prefix:            "photoshow.cache",
		EnvelopeTTL:       24 * time.Hour,
		CounterTTL:        48 * time.Hour,
		ConnectTimeout:    5 * time.Second,
		ConnectAttempts:   3,
		ReconnectCooldown: 30 * time.Second,
	}
}

// Validate checks the configuration for the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		return nil
	case BackendExternalKV:
		if c.Bucket == "" || c.CounterBucket == "" {
			return fmt.Errorf("%w: external-kv needs bucket and counter_bucket", errors.ErrMissingConfig)
		}
		if c.Bucket == c.CounterBucket {
			return fmt.Errorf("%w: bucket and counter_bucket must differ", errors.ErrInvalidConfig)
		}
		if c.EnvelopeTTL < 0 || c.CounterTTL < 0 {
			return fmt.Errorf("%w: negative ttl", errors.ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown cache backend %q", errors.ErrInvalidConfig, c.Backend)
	}
}

// Deps are the collaborators a backing store may need.
type Deps struct {
	Fs      afero.Fs
	NATS    *natsclient.Client
	Logger  *slog.Logger
	Metrics *metric.Metrics
	Clock   Clock
}

// New builds the configured backing store. It is the only place that
// branches on the backend name.
func New(cfg Config, deps Deps) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cachestore", "New", "validate config")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendExternalKV:
		if deps.NATS == nil {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "cachestore", "New", "external-kv requires a NATS client")
		}
		return NewKVStore(NATSConnector(deps.NATS, cfg), KVOptions{
			Prefix:            cfg.Prefix,
			ConnectTimeout:    cfg.ConnectTimeout,
			ReconnectCooldown: cfg.ReconnectCooldown,
			Logger:            deps.Logger,
			Metrics:           deps.Metrics,
			Clock:             deps.Clock,
		}), nil
	default:
		return NewFileStore(FileOptions{
			Fs:           deps.Fs,
			SnapshotPath: cfg.SnapshotPath,
			Logger:       deps.Logger,
			Clock:        deps.Clock,
		}), nil
	}
}

// NATSConnector connects client with linearly increasing backoff and opens
// the envelope and counter buckets, creating them with their TTLs.
func NATSConnector(client *natsclient.Client, cfg Config) Connector {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return func(ctx context.Context) (Buckets, error) {
		if err := client.ConnectWithRetry(ctx, retry.Linear(attempts, 200*time.Millisecond)); err != nil {
			return Buckets{}, err
		}

		envelope, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "photoshow image cache envelope",
			TTL:         cfg.EnvelopeTTL,
			History:     1,
		})
		if err != nil {
			return Buckets{}, err
		}

		counters, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.CounterBucket,
			Description: "photoshow daily generation counters",
			TTL:         cfg.CounterTTL,
			History:     1,
		})
		if err != nil {
			return Buckets{}, err
		}

		return Buckets{
			Envelope: client.NewKVStore(envelope),
			Counters: client.NewKVStore(counters),
		}, nil
	}
}
