package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xmx0632/photoshow/config"
	"github.com/xmx0632/photoshow/gallery"
	"github.com/xmx0632/photoshow/generation"
	"github.com/xmx0632/photoshow/health"
	"github.com/xmx0632/photoshow/imagecache"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/natsclient"
	"github.com/xmx0632/photoshow/storage/cachestore"
	"github.com/xmx0632/photoshow/storage/metadata"
	"github.com/xmx0632/photoshow/storage/objectstore"
)

// core holds the components every subcommand needs: the backing store,
// the cache over it and the quota limiter.
type core struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	nats     *natsclient.Client
	store    cachestore.Store
	cache    *imagecache.Manager
	limiter  *generation.Limiter
	closers  []func(context.Context) error
}

func newCore(cfg *config.Config, logger *slog.Logger) (*core, error) {
	c := &core{cfg: cfg, logger: logger, registry: metric.NewMetricsRegistry()}

	storeCfg := cfg.CacheStore()
	if storeCfg.Backend == cachestore.BackendExternalKV {
		opts := []natsclient.ClientOption{
			natsclient.WithName(appName),
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(c.registry),
			natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}
		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, err
		}
		c.nats = client
		c.closers = append(c.closers, client.Close)
	}

	store, err := cachestore.New(storeCfg, cachestore.Deps{
		NATS:    c.nats,
		Logger:  logger,
		Metrics: c.registry.CoreMetrics(),
	})
	if err != nil {
		c.close(context.Background())
		return nil, err
	}
	c.store = store
	// The store closes before the NATS client it writes through.
	c.closers = append([]func(context.Context) error{store.Close}, c.closers...)

	cache, err := imagecache.NewManager(store, imagecache.Options{
		MemoryTTL: cfg.Cache.MemoryTTL,
		Logger:    logger,
		Registry:  c.registry,
	})
	if err != nil {
		c.close(context.Background())
		return nil, err
	}
	c.cache = cache
	// Closing the manager closes the store, so it takes the store's slot.
	c.closers[0] = cache.Close

	loc, err := cfg.Location()
	if err != nil {
		c.close(context.Background())
		return nil, err
	}
	c.limiter = generation.NewLimiter(store, generation.LimiterOptions{
		DailyLimit: cfg.Generation.DailyLimit,
		Retention:  cfg.Generation.Retention,
		Location:   loc,
		Logger:     logger,
	})
	return c, nil
}

func (c *core) close(ctx context.Context) {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Shutdown incomplete", "error", err)
	}
}

// server holds everything serve adds on top of core.
type server struct {
	*core
	refresher *imagecache.Refresher
	gallery   *gallery.Service
	monitor   *health.Monitor
}

func newServer(ctx context.Context, c *core) (*server, error) {
	cfg := c.cfg

	objects, err := objectstore.Open(ctx, cfg.Storage, c.logger, c.registry)
	if err != nil {
		return nil, err
	}

	var meta *metadata.Store
	if cfg.Database.Path != "" {
		meta, err = metadata.Open(cfg.Database.Path, c.logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return meta.Close() })
	}

	source := &imagecache.RemoteSource{
		Objects: objects,
		Prefix:  objects.Prefix(),
		Logger:  c.logger,
	}
	if meta != nil {
		source.Metadata = meta
	}

	refresher := imagecache.NewRefresher(c.cache, source, imagecache.RefresherOptions{
		Interval: cfg.Cache.RefreshInterval,
		Timeout:  cfg.Cache.RefreshTimeout,
		Logger:   c.logger,
		Metrics:  c.registry.CoreMetrics(),
	})

	deps := gallery.Deps{
		Cache:         c.cache,
		Refresher:     refresher,
		Source:        source,
		Objects:       objects,
		Limiter:       c.limiter,
		Logger:        c.logger,
		Metrics:       c.registry.CoreMetrics(),
		ExpireMinutes: cfg.Cache.ExpireMinutes,
	}
	if meta != nil {
		deps.Metadata = meta
	}
	if pc, ok := cfg.Provider(); ok {
		provider, err := generation.NewHTTPProvider(pc, nil, c.logger)
		if err != nil {
			return nil, err
		}
		deps.Provider = provider
	} else {
		c.logger.Warn("No generation endpoint configured; generate requests will fail")
	}

	svc, err := gallery.New(deps)
	if err != nil {
		return nil, err
	}

	monitor := health.NewMonitor(5 * time.Second)
	monitor.Register("cache_store", health.StoreCheck(c.store))
	monitor.Register("refresher", health.RefresherCheck(refresher.Status))
	monitor.Register("object_store", health.UsageCheck(objects))
	if c.nats != nil {
		monitor.Register("nats", health.NATSCheck(c.nats))
	}

	return &server{core: c, refresher: refresher, gallery: svc, monitor: monitor}, nil
}
