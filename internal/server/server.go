// Package server implements the HTTP API: style documents, proxied tiles,
// sprites, and glyphs, and cache management endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mapgrid/tileproxy/internal/cache"
	"github.com/mapgrid/tileproxy/internal/config"
	"github.com/mapgrid/tileproxy/internal/middleware"
	"github.com/mapgrid/tileproxy/internal/proxy"
	"github.com/mapgrid/tileproxy/internal/styles"
)

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// Server is the HTTP server. It owns the gin engine and the underlying
// http.Server; the resolver, dispatcher, and cache are shared collaborators.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	resolver   *styles.Resolver
	dispatcher *proxy.Dispatcher
	cache      cache.Store
	engine     *gin.Engine
	server     *http.Server
	startTime  time.Time
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse is the JSON envelope for all error responses.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// New assembles the server. The caller owns logger construction so the
// same logger is shared across components.
func New(cfg *config.Config, resolver *styles.Resolver, dispatcher *proxy.Dispatcher, cacheStore cache.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(gin.Recovery())

	s := &Server{
		config:     cfg,
		logger:     logger,
		resolver:   resolver,
		dispatcher: dispatcher,
		cache:      cacheStore,
		engine:     engine,
		startTime:  time.Now(),
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      engine,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
			IdleTimeout:  cfg.RequestTimeout * 2,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/styles", s.handleStylesList)
		api.GET("/styles/:name", s.handleStyle)

		proxyGroup := api.Group("/proxy")
		{
			proxyGroup.GET("/tiles/:style/:source/:z/:x/:yext", s.handleTile)
			proxyGroup.GET("/sprites/:spec", s.handleSprite)
			proxyGroup.GET("/glyphs/:style/:fontstack/:range", s.handleGlyph)
		}

		api.GET("/cache/stats", s.handleCacheStats)
		api.DELETE("/cache/:key", s.handleCacheInvalidate)
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)
}

// Handler exposes the engine for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("Server starting",
		zap.String("addr", s.config.ListenAddr),
		zap.String("version", Version))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	m := s.dispatcher.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":   int64(time.Since(s.startTime).Seconds()),
		"request_count":    m.RequestCount,
		"error_count":      m.ErrorCount,
		"cache_hits":       m.CacheHits,
		"cache_misses":     m.CacheMisses,
		"upstream_fetches": m.UpstreamFetches,
	})
}
