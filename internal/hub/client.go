package hub

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/lotus/internal/filter"
	"github.com/tinytelemetry/lotus/internal/model"
)

// subscription is owned by exactly one client.
type subscription struct {
	id       string
	channels []string
	specs    []filter.Spec
	matchers []filter.Matcher
	throttle time.Duration
	limiter  *rate.Limiter
}

func (s *subscription) wantsLogs() bool {
	return slices.Contains(s.channels, ChannelLogs) || slices.Contains(s.channels, ChannelAll)
}

// allow applies the throttle. A subscription without one always passes.
func (s *subscription) allow(now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.AllowN(now, 1)
}

// Client is one admitted websocket connection.
type Client struct {
	id          string
	ip          string
	connectedAt time.Time
	conn        *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards filters and subs. Fan-out holds the read side.
	mu          sync.RWMutex
	filterSpecs []filter.Spec
	filters     []filter.Matcher
	subs        map[string]*subscription

	sendMu sync.RWMutex
	send   chan []byte
	closed bool
	// final is written after send is drained, before the close frame.
	final []byte

	messagesSent atomic.Uint64
	bytesSent    atomic.Uint64
	dropped      atomic.Uint64
}

// SubscriptionInfo is a read-only view of a subscription.
type SubscriptionInfo struct {
	ID       string        `json:"id"`
	Channels []string      `json:"channels"`
	Filters  []filter.Spec `json:"filters"`
	Throttle time.Duration `json:"throttle_ns"`
}

// ClientInfo is a read-only view of a connected client.
type ClientInfo struct {
	ID            string             `json:"id"`
	IP            string             `json:"ip"`
	ConnectedAt   time.Time          `json:"connected_at"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
	Filters       []filter.Spec      `json:"filters"`
	MessagesSent  uint64             `json:"messages_sent"`
	BytesSent     uint64             `json:"bytes_sent"`
	Dropped       uint64             `json:"dropped"`
	QueueLength   int                `json:"queue_length"`
}

func (c *Client) info() ClientInfo {
	c.mu.RLock()
	subs := make([]SubscriptionInfo, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, SubscriptionInfo{ID: s.id, Channels: s.channels, Filters: s.specs, Throttle: s.throttle})
	}
	filters := c.filterSpecs
	c.mu.RUnlock()
	return ClientInfo{
		ID:            c.id,
		IP:            c.ip,
		ConnectedAt:   c.connectedAt,
		Subscriptions: subs,
		Filters:       filters,
		MessagesSent:  c.messagesSent.Load(),
		BytesSent:     c.bytesSent.Load(),
		Dropped:       c.dropped.Load(),
		QueueLength:   len(c.send),
	}
}

// enqueue queues msg without blocking. It reports false when the queue is
// full or the client is closing.
func (c *Client) enqueue(msg []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// closeSend stops accepting messages. final, when set, is written once the
// queue has drained.
func (c *Client) closeSend(final []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.final = final
	close(c.send)
}

// matches evaluates the connection filters and each subscription for e and
// returns the ids of the subscriptions that should receive it.
func (c *Client) matches(e *model.LogEvent, now time.Time, onFiltered func()) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	connPass := filter.Match(e, c.filters...)
	for _, sub := range c.subs {
		if !sub.wantsLogs() {
			continue
		}
		if !connPass || !filter.Match(e, sub.matchers...) || !sub.allow(now) {
			onFiltered()
			continue
		}
		ids = append(ids, sub.id)
	}
	return ids
}
