// Package api serves the operational HTTP surface: health, Prometheus
// metrics, read-only engine state, and a live websocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

// Source is the read-only engine surface the handlers serve from
type Source interface {
	Health() core.StatusReport
	Positions(ctx context.Context) ([]core.Position, error)
	Plans() []core.Plan
	ExitRules() []core.ExitRule
	RecentEvents(ctx context.Context, limit int) ([]core.Event, error)
}

// Server hosts the HTTP surface on the configured bind address
type Server struct {
	cfg  config.APIConfig
	src  Source
	hub  *Hub
	log  logger.Logger
	http *http.Server
}

// NewServer builds the server and its routes. The returned hub must be
// subscribed to the bus for /events/ws to carry traffic.
func NewServer(cfg config.APIConfig, src Source, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg: cfg,
		src: src,
		hub: NewHub(log),
		log: log.WithField("component", "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/positions", s.positions)
	router.GET("/plans", s.plans)
	router.GET("/exits", s.exits)
	router.GET("/events", s.events)
	router.GET("/events/ws", s.hub.Serve)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Hub returns the websocket fan-out for bus subscription
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() {
	s.log.Infof("api listening on %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.WithError(err).Error("api server stopped")
	}
}

// Shutdown drains in-flight requests and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// ---------------------
// Handlers
// ---------------------

func (s *Server) health(c *gin.Context) {
	report := s.src.Health()
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) positions(c *gin.Context) {
	positions, err := s.src.Positions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.src.Plans()})
}

func (s *Server) exits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exit_rules": s.src.ExitRules()})
}

func (s *Server) events(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1..1000"})
			return
		}
		limit = parsed
	}
	events, err := s.src.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
