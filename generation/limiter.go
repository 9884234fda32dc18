// Package generation enforces the daily generation quota and talks to the
// image generation provider.
package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/storage/cachestore"
)

// Defaults for the daily quota.
const (
	DefaultDailyLimit = 50
	DefaultRetention  = 48 * time.Hour
	keyPrefix         = "generation.count."
)

// LimitStatus is the result of Check.
type LimitStatus struct {
	CurrentCount    int64 `json:"currentCount"`
	Limit           int64 `json:"limit"`
	Remaining       int64 `json:"remaining"`
	IsLimitExceeded bool  `json:"isLimitExceeded"`
}

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	DailyLimit int64
	// Retention is how long a day's counter lives after its last write.
	Retention time.Duration
	// Location decides where a day starts; defaults to time.Local.
	Location *time.Location
	Clock    cachestore.Clock
	Logger   *slog.Logger
}

// Limiter counts generations per calendar day in the backing store.
type Limiter struct {
	store   cachestore.Store
	counter cachestore.Counter
	opts    LimiterOptions
	logger  *slog.Logger
}

// NewLimiter creates a limiter on store. Stores without exact counters
// always report zero.
func NewLimiter(store cachestore.Store, opts LimiterOptions) *Limiter {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = DefaultDailyLimit
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &Limiter{store: store, opts: opts, logger: opts.Logger.With("component", "limiter")}
	if c, ok := store.(cachestore.Counter); ok && store.Capabilities().Counters {
		l.counter = c
	}
	return l
}

// Key returns the counter key of the day containing t.
func (l *Limiter) Key(t time.Time) string {
	return keyPrefix + t.In(l.opts.Location).Format(time.DateOnly)
}

// Limit returns the daily quota.
func (l *Limiter) Limit() int64 { return l.opts.DailyLimit }

// Count returns today's generation count.
func (l *Limiter) Count(ctx context.Context) (int64, error) {
	if l.counter == nil {
		l.unsupported("Count")
		return 0, nil
	}
	n, err := l.counter.Count(ctx, l.Key(l.opts.Clock()))
	if err != nil {
		return 0, errors.WrapTransient(err, "Limiter", "Count", "read counter")
	}
	return n, nil
}

// Increment records one generation today and returns the new count.
func (l *Limiter) Increment(ctx context.Context) (int64, error) {
	if l.counter == nil {
		l.unsupported("Increment")
		return 0, nil
	}
	n, err := l.counter.Increment(ctx, l.Key(l.opts.Clock()), l.opts.Retention)
	if err != nil {
		return 0, errors.WrapTransient(err, "Limiter", "Increment", "increment counter")
	}
	return n, nil
}

// Check reports today's quota. It never fails: on error it reports the
// full quota as available.
func (l *Limiter) Check(ctx context.Context) LimitStatus {
	n, err := l.Count(ctx)
	if err != nil {
		l.logger.Warn("Quota check failed, allowing request", "error", err)
		n = 0
	}
	return l.status(n)
}

// Reservation is one generation claimed from a day's quota.
type Reservation struct {
	l   *Limiter
	key string
}

// Reserve claims one generation from today's quota before the work is
// done, so concurrent callers cannot all pass a check at limit-1. When the
// quota is used up the claim is handed back and the error wraps
// errors.ErrQuotaExceeded. Like Check, Reserve fails open when the counter
// cannot be read or written.
func (l *Limiter) Reserve(ctx context.Context) (*Reservation, LimitStatus, error) {
	if l.counter == nil {
		l.unsupported("Reserve")
		return &Reservation{l: l}, l.status(0), nil
	}
	key := l.Key(l.opts.Clock())
	n, err := l.counter.Increment(ctx, key, l.opts.Retention)
	if err != nil {
		l.logger.Warn("Quota reservation failed, allowing request", "error", err)
		return &Reservation{l: l}, l.Check(ctx), nil
	}
	if n > l.opts.DailyLimit {
		if _, err := l.counter.Decrement(ctx, key, l.opts.Retention); err != nil {
			l.logger.Warn("Rejected quota claim not handed back", "key", key, "error", err)
		}
		return nil, l.status(n - 1), errors.WrapInvalid(errors.ErrQuotaExceeded, "Limiter", "Reserve", "daily limit reached")
	}
	return &Reservation{l: l, key: key}, l.status(n), nil
}

// Release hands the claim back, for a generation that did not happen. It
// is a no-op for claims made without a counter.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil || r.key == "" {
		return
	}
	if _, err := r.l.counter.Decrement(ctx, r.key, r.l.opts.Retention); err != nil {
		r.l.logger.Warn("Quota claim not released", "key", r.key, "error", err)
	}
	r.key = ""
}

func (l *Limiter) status(n int64) LimitStatus {
	return LimitStatus{
		CurrentCount:    n,
		Limit:           l.opts.DailyLimit,
		Remaining:       max(0, l.opts.DailyLimit-n),
		IsLimitExceeded: n >= l.opts.DailyLimit,
	}
}

func (l *Limiter) unsupported(op string) {
	l.logger.Warn("Backing store has no exact counters, generation count not tracked",
		"operation", op, "backend", l.store.Name())
}
