package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/xmx0632/photoshow/gateway"
)

const requestIDHeader = "X-Request-ID"

// requestID propagates X-Request-ID or assigns a new one.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// observe logs each request and records it by route template.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(status), elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", c.GetString("request_id"),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", attrs...)
			return
		}
		s.logger.Debug("Request served", attrs...)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.EnableCORS {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		allowed := false
		for _, o := range s.cfg.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				c.Header("Access-Control-Allow-Origin", "*")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxRequestSize)
		}
		c.Next()
	}
}

func (s *Server) timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limits == nil || c.FullPath() == "/health" || c.FullPath() == "/metrics" {
			c.Next()
			return
		}
		if !s.limits.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "too many requests, please wait a moment",
				"status": http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}

// clientLimiter keeps a token bucket per client address. Idle clients age
// out of the LRU.
type clientLimiter struct {
	mu       sync.Mutex
	cfg      gateway.RateLimit
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newClientLimiter(cfg gateway.RateLimit) *clientLimiter {
	size := cfg.MaxClients
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &clientLimiter{cfg: cfg, limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl)}
}

func (l *clientLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(ip); ok {
		// Re-adding refreshes the idle deadline.
		l.limiters.Add(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.PerSecond()), l.cfg.Burst)
	l.limiters.Add(ip, lim)
	return lim
}
