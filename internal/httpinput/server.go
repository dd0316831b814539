// Package httpinput accepts Fluent-style JSON log batches over HTTP.
package httpinput

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/decode"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	// DefaultEnvelopeBufferSize is the default buffer size for the outgoing envelope channel.
	DefaultEnvelopeBufferSize = 10_000

	// DefaultMaxBodySize bounds a single request body.
	DefaultMaxBodySize = 8 * 1024 * 1024
)

// ServerConfig holds tunable parameters for the HTTP input.
type ServerConfig struct {
	EnvelopeBufferSize int
	MaxBodySize        int64
	Stats              *stats.Stats
	Logger             zerolog.Logger
}

// Server receives POSTed Fluent records. The URL path, when present, is the
// Fluent tag.
type Server struct {
	addr         string
	maxBody      int64
	envelopeChan chan model.IngestEnvelope
	stats        *stats.Stats
	logger       zerolog.Logger

	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	// inflight guards envelopeChan against sends after close.
	inflight sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewServer creates a new HTTP input. Default addr is "127.0.0.1:9880".
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:9880"
	}
	cfg := ServerConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.EnvelopeBufferSize <= 0 {
		cfg.EnvelopeBufferSize = DefaultEnvelopeBufferSize
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		maxBody:      cfg.MaxBodySize,
		envelopeChan: make(chan model.IngestEnvelope, cfg.EnvelopeBufferSize),
		stats:        cfg.Stats,
		logger: cfg.Logger.With().
			Str("component", "httpinput").
			Str("protocol", string(model.ProtocolFluent)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the gin engine serving the input routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/*tag", s.handleIngest)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()
	return nil
}

func (s *Server) handleIngest(c *gin.Context) {
	tag := strings.Trim(c.Param("tag"), "/")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)
	body, err := s.readPayload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	events := decode.ParseFluentTagged(body, tag, time.Now())
	if len(events) == 0 {
		s.stats.RecordDecodeError(model.ProtocolFluent)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed fluent payload"})
		return
	}

	remote := c.ClientIP()
	for _, ev := range events {
		ev.Protocol = model.ProtocolFluent
		ev.Transport = model.TransportHTTP
		ev.SourceIP = remote
	}
	env := model.IngestEnvelope{
		Protocol:  model.ProtocolFluent,
		Transport: model.TransportHTTP,
		SourceIP:  remote,
		Size:      len(body),
		Events:    events,
	}

	if !s.offer(env) {
		s.stats.RecordDropped(model.ProtocolFluent)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(events)})
}

// readPayload returns the JSON document from a raw body or from the "json"
// form field used by Fluentd's in_http.
func (s *Server) readPayload(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		return []byte(c.Request.PostForm.Get("json")), nil
	}
	return io.ReadAll(c.Request.Body)
}

func (s *Server) offer(env model.IngestEnvelope) bool {
	s.inflight.RLock()
	defer s.inflight.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.envelopeChan <- env:
		return true
	default:
		return false
	}
}

// Stop shuts the server down and closes the envelope channel. It is safe to
// call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.server.Shutdown(ctx)
		}
		s.inflight.Lock()
		s.closed = true
		close(s.envelopeChan)
		s.inflight.Unlock()
	})
	return err
}

// Envelopes returns the channel of decoded envelopes.
func (s *Server) Envelopes() <-chan model.IngestEnvelope {
	return s.envelopeChan
}

// Protocol returns the protocol this server decodes.
func (s *Server) Protocol() model.Protocol { return model.ProtocolFluent }

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
