package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/gallery"
	"github.com/xmx0632/photoshow/imagecache"
)

func (s *Server) handleHealth(c *gin.Context) {
	st := s.monitor.Check(c.Request.Context(), "photoshow")
	code := http.StatusOK
	if st.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (s *Server) handleImages(c *gin.Context) {
	c.JSON(http.StatusOK, s.gallery.Images(c.Request.Context()))
}

type syncRequest struct {
	LocalImages []map[string]any `json:"localImages"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.WrapInvalid(errors.ErrInvalidData, "Server", "handleSync", err.Error()))
		return
	}
	images, err := s.gallery.Sync(c.Request.Context(), req.LocalImages)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images, "count": len(images)})
}

func (s *Server) handleRefresh(c *gin.Context) {
	images, err := s.gallery.Refresh(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(images), "refresh": s.gallery.RefreshStatus()})
}

func (s *Server) handleRefreshStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gallery.RefreshStatus())
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req gallery.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.WrapInvalid(errors.ErrInvalidData, "Server", "handleGenerate", err.Error()))
		return
	}
	res, err := s.gallery.Generate(c.Request.Context(), req)
	if errors.Is(err, errors.ErrQuotaExceeded) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "daily generation limit reached",
			"status": http.StatusTooManyRequests,
			"limit":  res.Limit,
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleSetTags(c *gin.Context) {
	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.WrapInvalid(errors.ErrInvalidData, "Server", "handleSetTags", err.Error()))
		return
	}
	rec, found, err := s.gallery.SetTags(c.Request.Context(), c.Param("id"), req.Tags)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !found {
		s.writeError(c, errors.ErrKeyNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDelete(c *gin.Context) {
	found, err := s.gallery.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !found {
		s.writeError(c, errors.ErrKeyNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLimit(c *gin.Context) {
	c.JSON(http.StatusOK, s.gallery.Limit(c.Request.Context()))
}

func (s *Server) handleUsage(c *gin.Context) {
	usage, err := s.gallery.Usage(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

type cacheStatusResponse struct {
	imagecache.Status
	Count int `json:"count"`
}

func (s *Server) handleCacheStatus(c *gin.Context) {
	minutes := 0
	if raw := c.Query("expireMinutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(c, errors.WrapInvalid(errors.ErrInvalidData, "Server", "handleCacheStatus",
				"expireMinutes must be a non-negative integer"))
			return
		}
		minutes = n
	}
	st := s.gallery.CacheStatus(c.Request.Context(), minutes)
	c.JSON(http.StatusOK, cacheStatusResponse{Status: st, Count: len(st.Images)})
}

func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.gallery.ClearCache(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
