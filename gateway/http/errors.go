package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/imagecache"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrQuotaExceeded), errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, imagecache.ErrRefreshInFlight):
		return http.StatusConflict
	case errors.Is(err, errors.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, errors.ErrProviderFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage returns a message safe for clients. Details stay in the
// log.
func publicMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusConflict:
		return "refresh already in progress"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusNotImplemented:
		return "not supported"
	case http.StatusBadGateway:
		return "image provider failed"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "request timeout"
	}
	return "internal server error"
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request error", "route", c.FullPath(), "error", err,
			"request_id", c.GetString("request_id"))
	} else {
		s.logger.Debug("Request rejected", "route", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": publicMessage(code), "status": code})
}
