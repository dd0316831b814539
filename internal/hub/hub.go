// Package hub fans decoded log events out to websocket subscribers.
//
// Clients connect to the control channel, are admitted by the rate limiter,
// and then manage subscriptions with JSON requests. Each client owns a
// bounded send queue drained by its own writer goroutine, so a slow client
// only ever loses its own events.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/ratelimit"
	"github.com/tinytelemetry/lotus/internal/ringbuffer"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	// DefaultSendQueueSize is the per-client outbound queue length.
	DefaultSendQueueSize = 256
	// DefaultMaxMessageSize bounds a single client request.
	DefaultMaxMessageSize = 64 * 1024

	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
)

// ErrShuttingDown is returned to connections attempted during shutdown.
var ErrShuttingDown = errors.New("hub shutting down")

// Config holds tunable parameters for the hub.
type Config struct {
	MaxClientsPerIP int
	TotalMaxClients int
	RateLimitWindow time.Duration
	RingBufferSize  int
	SendQueueSize   int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	// CheckOrigin overrides the websocket origin check. Nil accepts any origin.
	CheckOrigin func(*http.Request) bool
	Stats       *stats.Stats
	Logger      zerolog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Hub owns the client registry, admission control and the replay buffer.
type Hub struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	ring     *ringbuffer.Ring[*model.LogEvent]
	upgrader websocket.Upgrader
	stats    *stats.Stats
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client

	closing atomic.Bool
	wg      sync.WaitGroup
}

// New builds a hub. Zero-valued fields take the package defaults.
func New(conf ...Config) *Hub {
	cfg := Config{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.MaxClientsPerIP <= 0 {
		cfg.MaxClientsPerIP = model.DefaultMaxClientsPerIP
	}
	if cfg.TotalMaxClients <= 0 {
		cfg.TotalMaxClients = model.DefaultTotalMaxClients
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = model.DefaultRateLimitWindow
	}
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = model.DefaultRingBufferSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Hub{
		cfg:     cfg,
		limiter: ratelimit.New(cfg.MaxClientsPerIP, cfg.TotalMaxClients, cfg.RateLimitWindow),
		ring:    ringbuffer.New[*model.LogEvent](cfg.RingBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		stats:   cfg.Stats,
		logger:  cfg.Logger.With().Str("component", "hub").Logger(),
		now:     cfg.Clock,
		clients: make(map[string]*Client),
	}
}

// Name implements the dispatcher consumer contract.
func (h *Hub) Name() string { return "hub" }

// ServeHTTP admits and upgrades a websocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.closing.Load() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	if err := h.limiter.Admit(ip, h.now()); err != nil {
		h.stats.RecordRejected()
		h.logger.Warn().
			Str("event", "security").
			Str("ip", ip).
			Int("active", h.limiter.Active()).
			Err(err).
			Msg("connection rejected")
		status := http.StatusServiceUnavailable
		if errors.Is(err, ratelimit.ErrPerIPLimit) {
			status = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.limiter.Release(ip)
		h.logger.Debug().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	c := h.register(conn, ip)
	if c == nil {
		return
	}
	h.send(c, ConnectionMessage{
		Type:       TypeConnection,
		ClientID:   c.id,
		ServerTime: h.now().UTC(),
		BufferSize: h.ring.Len(),
	})

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(conn *websocket.Conn, ip string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:          uuid.NewString(),
		ip:          ip,
		connectedAt: h.now(),
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[string]*subscription),
		send:        make(chan []byte, h.cfg.SendQueueSize),
	}

	h.mu.Lock()
	// Shutdown may have started between the closing check and here.
	if h.closing.Load() {
		h.mu.Unlock()
		cancel()
		h.limiter.Release(ip)
		_ = conn.Close()
		return nil
	}
	h.clients[c.id] = c
	// Counted under mu so Shutdown never waits on a zero counter for a registered client.
	h.wg.Add(2)
	h.mu.Unlock()

	h.stats.RecordConnection()
	h.logger.Info().Str("client_id", c.id).Str("ip", ip).Msg("client connected")
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.cancel()
	c.closeSend(nil)
	h.limiter.Release(c.ip)
	h.stats.RecordDisconnection()
	h.logger.Info().
		Str("client_id", c.id).
		Str("ip", c.ip).
		Dur("duration", h.now().Sub(c.connectedAt)).
		Uint64("messages_sent", c.messagesSent.Load()).
		Uint64("bytes_sent", c.bytesSent.Load()).
		Msg("client disconnected")
}

// Consume records e in the replay buffer and queues it to every matching
// subscription. It never blocks on a client. An event that cannot be
// serialised is neither buffered nor delivered.
func (h *Hub) Consume(e *model.LogEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.ring.Append(e)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return nil
	}

	now := h.now()
	var firstErr error
	for _, c := range h.clients {
		ids := c.matches(e, now, h.stats.RecordFiltered)
		for _, id := range ids {
			msg, err := json.Marshal(LogEventMessage{Type: TypeLogEvent, SubscriptionID: id, Data: data})
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if c.enqueue(msg) {
				h.stats.RecordDelivered()
			} else {
				h.stats.RecordSlowClientDrop()
			}
		}
	}
	return firstErr
}

// Clients returns a snapshot of every connected client.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.info())
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Recent returns up to n buffered events, oldest first.
func (h *Hub) Recent(n int) []*model.LogEvent {
	return h.ring.Snapshot(n)
}

// BufferCapacity returns the replay buffer capacity.
func (h *Hub) BufferCapacity() int { return h.ring.Cap() }

// Shutdown sends server_shutdown to every client, closes their connections
// and waits for their goroutines, or until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.closing.Store(true)

	final, _ := json.Marshal(ShutdownMessage{Type: TypeServerShutdown, Timestamp: h.now().UTC()})

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeSend(final)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range clients {
			_ = c.conn.Close()
		}
		return ctx.Err()
	}
}

func (h *Hub) send(c *Client, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", c.id).Msg("encode message failed")
		return
	}
	if !c.enqueue(msg) {
		h.stats.RecordSlowClientDrop()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
