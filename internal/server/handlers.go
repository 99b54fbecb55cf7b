package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mapgrid/tileproxy/internal/proxy"
	"github.com/mapgrid/tileproxy/internal/styles"
	"github.com/mapgrid/tileproxy/internal/upstream"
)

func (s *Server) handleStylesList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"styles": s.resolver.List()})
}

func (s *Server) handleStyle(c *gin.Context) {
	name := c.Param("name")
	doc, err := s.resolver.Resolve(c.Request.Context(), name)
	if err != nil {
		s.respondError(c, err)
		return
	}

	rendered, err := doc.Render(requestBaseURL(c))
	if err != nil {
		s.respondError(c, err)
		return
	}

	if doc.Kind == styles.StyleCustom {
		// The editable style must never be cached by the browser.
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
	} else {
		c.Header("Cache-Control", "public, max-age=3600")
	}
	c.Data(http.StatusOK, "application/json", rendered)
}

// requestBaseURL reconstructs the scheme and host the client used, so
// style documents carry proxy URLs that resolve back to this server.
func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (s *Server) handleTile(c *gin.Context) {
	style := c.Param("style")
	source := c.Param("source")

	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	yext := c.Param("yext")
	dot := strings.LastIndex(yext, ".")
	if errZ != nil || errX != nil || dot <= 0 || dot == len(yext)-1 {
		s.notFound(c, "invalid tile path")
		return
	}
	y, errY := strconv.Atoi(yext[:dot])
	if errY != nil {
		s.notFound(c, "invalid tile path")
		return
	}
	ext := yext[dot+1:]

	res, err := s.dispatcher.HandleTile(c.Request.Context(), style, source, z, x, y, ext)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.servePayload(c, res)
}

func (s *Server) handleSprite(c *gin.Context) {
	spec := c.Param("spec")

	var ext string
	switch {
	case strings.HasSuffix(spec, ".json"):
		ext = ".json"
	case strings.HasSuffix(spec, ".png"):
		ext = ".png"
	default:
		s.notFound(c, "sprite requests must end in .json or .png")
		return
	}
	base := strings.TrimSuffix(spec, ext)

	// A scale suffix like @2x stays part of the upstream sprite path.
	style := base
	suffix := ext
	if at := strings.LastIndex(base, "@"); at > 0 {
		style = base[:at]
		suffix = base[at:] + ext
	}

	res, err := s.dispatcher.HandleSprite(c.Request.Context(), style, suffix)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.servePayload(c, res)
}

func (s *Server) handleGlyph(c *gin.Context) {
	res, err := s.dispatcher.HandleGlyph(c.Request.Context(),
		c.Param("style"), c.Param("fontstack"), c.Param("range"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.servePayload(c, res)
}

func (s *Server) servePayload(c *gin.Context, res *proxy.Result) {
	c.Header("X-Cache", string(res.CacheStatus))
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, res.ContentType, res.Payload)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats, err := s.cache.Stats()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCacheInvalidate(c *gin.Context) {
	key := c.Param("key")

	var removed int
	if key == "all" {
		removed = s.cache.InvalidateAll()
	} else {
		removed = s.cache.InvalidateRaw(key)
	}
	if removed == 0 {
		s.notFound(c, "no cache entries matched "+key)
		return
	}
	s.logger.Info("Cache invalidated",
		zap.String("key", key),
		zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"invalidated": removed})
}

func (s *Server) notFound(c *gin.Context, description string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Description: description})
}

// respondError maps component errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		authErr    *proxy.AuthError
		srcErr     *proxy.SourceNotFoundError
		cfgErr     *styles.ConfigError
		statusErr  *upstream.StatusError
		timeoutErr *upstream.TimeoutError
		netErr     *upstream.NetworkError
	)
	switch {
	case errors.Is(err, styles.ErrNotFound):
		s.notFound(c, err.Error())
	case errors.As(err, &srcErr):
		s.notFound(c, srcErr.Error())
	case errors.As(err, &authErr):
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:       "missing_credentials",
			Description: authErr.Error(),
		})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:       "upstream_timeout",
			Description: timeoutErr.Error(),
		})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:       "upstream_error",
			Description: statusErr.Error(),
		})
	case errors.As(err, &netErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:       "upstream_unreachable",
			Description: netErr.Error(),
		})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:       "style_misconfigured",
			Description: cfgErr.Error(),
		})
	default:
		s.logger.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}
