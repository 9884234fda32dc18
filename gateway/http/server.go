// Package http serves the gallery API over HTTP using gin.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/gallery"
	"github.com/xmx0632/photoshow/gateway"
	"github.com/xmx0632/photoshow/generation"
	"github.com/xmx0632/photoshow/health"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/imagecache"
	"github.com/xmx0632/photoshow/metric"
	"github.com/xmx0632/photoshow/storage"
)

// Gallery is the set of operations the API exposes. *gallery.Service
// implements it.
type Gallery interface {
	Images(ctx context.Context) imagecache.Status
	CacheStatus(ctx context.Context, expireMinutes int) imagecache.Status
	Sync(ctx context.Context, local []map[string]any) ([]image.Record, error)
	Refresh(ctx context.Context) ([]image.Record, error)
	RefreshStatus() imagecache.RefreshStatus
	Generate(ctx context.Context, req gallery.GenerateRequest) (gallery.GenerateResult, error)
	Delete(ctx context.Context, id string) (bool, error)
	SetTags(ctx context.Context, id string, tags []string) (image.Record, bool, error)
	Usage(ctx context.Context) (storage.Usage, error)
	Limit(ctx context.Context) generation.LimitStatus
	ClearCache(ctx context.Context) error
}

var _ Gallery = (*gallery.Service)(nil)

// Server is the HTTP API.
type Server struct {
	cfg      gateway.Config
	gallery  Gallery
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	logger   *slog.Logger
	limits   *clientLimiter

	engine *gin.Engine
	srv    *http.Server
}

// NewServer validates cfg and builds the router. monitor and registry may
// be nil, which disables /health and /metrics.
func NewServer(cfg gateway.Config, g Gallery, monitor *health.Monitor,
	registry *metric.MetricsRegistry, logger *slog.Logger,
) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "gallery is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		gallery:  g,
		monitor:  monitor,
		registry: registry,
		logger:   logger.With("component", "http"),
	}
	if registry != nil {
		s.metrics = registry.CoreMetrics()
	}
	if cfg.RateLimit.Enabled {
		s.limits = newClientLimiter(cfg.RateLimit)
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.observe(), s.cors(), s.rateLimit(), s.bodyLimit())

	if s.monitor != nil {
		r.GET("/health", s.handleHealth)
	}
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(s.registry.Handler()))
	}

	api := r.Group("/api")
	api.Use(s.timeout(s.cfg.RequestTimeout))
	{
		api.GET("/images", s.handleImages)
		api.POST("/images/sync", s.handleSync)
		api.POST("/images/refresh", s.handleRefresh)
		api.GET("/images/refresh", s.handleRefreshStatus)
		api.PUT("/images/:id/tags", s.handleSetTags)
		api.DELETE("/images/:id", s.handleDelete)
		api.GET("/limit", s.handleLimit)
		api.GET("/storage/usage", s.handleUsage)
		api.GET("/cache/status", s.handleCacheStatus)
		api.DELETE("/cache", s.handleClearCache)
	}
	// Generation waits on the provider and gets its own deadline.
	r.POST("/api/images/generate", s.timeout(s.cfg.GenerateTimeout), s.handleGenerate)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.WrapFatal(err, "Server", "Start", "listen")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Server", "Start", "shutdown")
	}
	return nil
}
