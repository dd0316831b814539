// Package httpserver serves the hub control channel and the operational API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

// HubView is the narrow hub contract required by the control server.
type HubView interface {
	http.Handler
	Clients() []hub.ClientInfo
	Recent(n int) []*model.LogEvent
	BufferCapacity() int
}

// Config wires the control server's collaborators. Store and Gatherer are optional.
type Config struct {
	Hub       HubView
	Stats     *stats.Stats
	Store     model.EventReader
	Gatherer  prometheus.Gatherer
	Listeners func() []string
	Logger    zerolog.Logger
}

// Server provides the websocket endpoint, health, stats and metrics.
type Server struct {
	addr      string
	cfg       Config
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	logger    zerolog.Logger
}

// NewServer creates a new control server.
func NewServer(addr string, cfg Config) *Server {
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		logger:    cfg.Logger.With().Str("component", "httpserver").Logger(),
	}
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	if s.cfg.Hub != nil {
		r.GET("/ws", gin.WrapH(s.cfg.Hub))
	}
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/clients", s.handleClients)
	r.GET("/api/events/recent", s.handleRecent)
	if s.cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server. Hijacked websocket
// connections are not tracked by net/http; the hub closes those.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.cfg.Hub != nil {
		body["clients"] = len(s.cfg.Hub.Clients())
		body["buffer_capacity"] = s.cfg.Hub.BufferCapacity()
	}
	if s.cfg.Listeners != nil {
		body["listeners"] = s.cfg.Listeners()
	}
	if s.cfg.Store != nil {
		count, err := s.cfg.Store.TotalEventCount()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
			return
		}
		body["stored_events"] = count
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Stats.Snapshot())
}

func (s *Server) handleClients(c *gin.Context) {
	clients := []hub.ClientInfo{}
	if s.cfg.Hub != nil {
		clients = s.cfg.Hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

func (s *Server) handleRecent(c *gin.Context) {
	limit := model.DefaultReplayCount
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events := []*model.LogEvent{}
	if s.cfg.Hub != nil {
		if recent := s.cfg.Hub.Recent(min(limit, s.cfg.Hub.BufferCapacity())); recent != nil {
			events = recent
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
