package imagecache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/metric"
)

// DefaultRefreshInterval is the period of background refreshes.
const DefaultRefreshInterval = 5 * time.Minute

// RefreshStatus describes the refresher for health and admin endpoints.
type RefreshStatus struct {
	InFlight  bool       `json:"inFlight"`
	Runs      int64      `json:"runs"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	LastCount int        `json:"lastCount"`
}

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	Interval time.Duration
	// Timeout bounds one refresh; defaults to a minute.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Refresher reloads the cache from a Source.
type Refresher struct {
	manager *Manager
	source  Source
	opts    RefresherOptions
	logger  *slog.Logger

	runs atomic.Int64
	cold singleflight.Group

	mu sync.Mutex
	// running is closed when the refresh holding the slot finishes.
	running   chan struct{}
	lastRun   time.Time
	lastErr   error
	lastCount int

	wg sync.WaitGroup
}

// NewRefresher creates a refresher. Call Run to start the ticker.
func NewRefresher(manager *Manager, source Source, opts RefresherOptions) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRefreshInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Refresher{
		manager: manager,
		source:  source,
		opts:    opts,
		logger:  opts.Logger.With("component", "refresher"),
	}
}

// Run refreshes once per interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info("Refresher started", "interval", r.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("Refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
				r.logger.Warn("Scheduled refresh failed", "error", err)
			}
		}
	}
}

// ErrRefreshInFlight is returned when a refresh is already running.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Refresh runs one refresh now. Concurrent calls return
// ErrRefreshInFlight instead of queueing.
func (r *Refresher) Refresh(ctx context.Context) ([]image.Record, error) {
	if _, ok := r.claim(); !ok {
		return nil, ErrRefreshInFlight
	}
	defer r.release()
	return r.refresh(ctx)
}

// Trigger starts a refresh in the background unless one is running. It
// reports whether a refresh was started.
func (r *Refresher) Trigger(ctx context.Context) bool {
	if _, ok := r.claim(); !ok {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		if _, err := r.refresh(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Background refresh failed", "error", err)
		}
	}()
	return true
}

// EnsureInitialized populates a cold cache synchronously. Concurrent cold
// callers share one upstream call, and a refresh already running in the
// background is waited for rather than repeated.
func (r *Refresher) EnsureInitialized(ctx context.Context) error {
	if r.manager.IsInitialized(ctx) {
		return nil
	}
	_, err, shared := r.cold.Do("cold", func() (any, error) {
		if r.manager.IsInitialized(ctx) {
			return nil, nil
		}
		done, ok := r.claim()
		if ok {
			defer r.release()
			return r.refresh(ctx)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
		lastErr := r.lastErr
		r.mu.Unlock()
		return nil, lastErr
	})
	if shared {
		r.logger.Debug("Joined in-flight cold refresh")
	}
	return err
}

// claim takes the refresh slot. When another refresh holds it, claim
// returns that refresh's done channel and false.
func (r *Refresher) claim() (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running != nil {
		return r.running, false
	}
	r.running = make(chan struct{})
	return r.running, true
}

func (r *Refresher) release() {
	r.mu.Lock()
	close(r.running)
	r.running = nil
	r.mu.Unlock()
}

// Wait blocks until background refreshes started by Trigger finish.
func (r *Refresher) Wait() { r.wg.Wait() }

// Status returns the refresher state.
func (r *Refresher) Status() RefreshStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RefreshStatus{
		InFlight:  r.running != nil,
		Runs:      r.runs.Load(),
		LastCount: r.lastCount,
	}
	if !r.lastRun.IsZero() {
		t := r.lastRun
		st.LastRun = &t
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// refresh pulls the remote listing and merges it with the local-only
// records already cached. Cloud records in the cache are replaced by the
// listing so deleted objects disappear.
func (r *Refresher) refresh(ctx context.Context) ([]image.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	merged, err := r.pull(ctx)
	elapsed := time.Since(start)

	r.runs.Add(1)
	r.opts.Metrics.RecordRefresh(err == nil, elapsed)

	r.mu.Lock()
	r.lastRun = start
	r.lastErr = err
	if err == nil {
		r.lastCount = len(merged)
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	r.logger.Info("Cache refreshed", "images", len(merged), "duration", elapsed)
	return merged, nil
}

func (r *Refresher) pull(ctx context.Context) ([]image.Record, error) {
	remote, err := r.source.Records(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Refresher", "refresh", "list remote images")
	}

	var local []image.Record
	for _, rec := range r.manager.GetAll(ctx) {
		if !rec.IsCloudImage {
			local = append(local, rec)
		}
	}

	merged, err := r.manager.Sync(ctx, local, remote)
	if err != nil {
		if merged == nil {
			return nil, err
		}
		// The store kept the merge in its memory mirror.
		r.logger.Warn("Refresh stored in memory only", "error", err)
	}
	return merged, nil
}
