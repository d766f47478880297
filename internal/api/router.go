package api

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/timeleak/timeleakd/internal/config"
	"github.com/timeleak/timeleakd/internal/mw"
)

// NewRouter builds the local API router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}
	rateLimiter := mw.RateLimit(limit, burst)

	ttl := config.ParseDuration(cfg.ReportCacheTTL, 30*time.Second)
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	v1 := r.Group("/api/v1")
	v1.Use(rateLimiter)
	{
		v1.POST("/usage", h.Ingest)

		v1.GET("/report", caching, h.Report)

		v1.GET("/goal", h.GetGoal)
		v1.PUT("/goal", h.SetGoal)

		v1.PUT("/identity", h.SetIdentity)
		v1.DELETE("/identity", h.ClearIdentity)

		v1.POST("/sync", h.SyncNow)
		v1.POST("/sync/reset", h.SyncReset)
		v1.GET("/sync/status", h.SyncStatus)
	}

	return r
}

// Server is the local API HTTP server.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server.
func NewServer(addr string, router *gin.Engine, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop stops the API server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Close()
}
