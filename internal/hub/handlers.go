package hub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/lotus/internal/filter"
	"github.com/tinytelemetry/lotus/internal/model"
)

type handlerFunc func(h *Hub, c *Client, req Request)

// handlers maps request types to their handlers.
var handlers = map[string]handlerFunc{
	TypeSubscribe:     (*Hub).handleSubscribe,
	TypeUnsubscribe:   (*Hub).handleUnsubscribe,
	TypeFilter:        (*Hub).handleFilter,
	TypePing:          (*Hub).handlePing,
	TypeBufferRequest: (*Hub).handleBufferRequest,
}

func (h *Hub) handleMessage(c *Client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, "", "invalid message format")
		return
	}
	fn, ok := handlers[req.Type]
	if !ok {
		h.sendError(c, req.Type, fmt.Sprintf("unknown message type %q", req.Type))
		return
	}
	fn(h, c, req)
}

func (h *Hub) sendError(c *Client, requestType, msg string) {
	h.send(c, ErrorMessage{Type: TypeError, Error: msg, RequestType: requestType})
}

func (h *Hub) compileFilters(specs []filter.Spec) ([]filter.Matcher, error) {
	return filter.Compile(specs, func(expression string, err error) {
		h.stats.RecordFilterError()
		h.logger.Debug().Err(err).Str("expression", expression).Msg("custom filter failed open")
	})
}

func (h *Hub) handleSubscribe(c *Client, req Request) {
	matchers, err := h.compileFilters(req.Filters)
	if err != nil {
		h.sendError(c, req.Type, err.Error())
		return
	}
	if req.Throttle < 0 {
		h.sendError(c, req.Type, "throttle must not be negative")
		return
	}

	channels := normalizeChannels(req.Channels)
	sub := &subscription{
		id:       uuid.NewString(),
		channels: channels,
		specs:    req.Filters,
		matchers: matchers,
	}
	if req.Throttle > 0 {
		sub.throttle = time.Duration(req.Throttle) * time.Millisecond
		sub.limiter = rate.NewLimiter(rate.Every(sub.throttle), 1)
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	specs := req.Filters
	if specs == nil {
		specs = []filter.Spec{}
	}
	h.send(c, SubscriptionConfirmed{
		Type:           TypeSubscriptionConfirmed,
		SubscriptionID: sub.id,
		Channels:       channels,
		Filters:        specs,
		Throttle:       req.Throttle,
	})
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ch := range in {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch != "" {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		out = append(out, ChannelLogs)
	}
	return out
}

func (h *Hub) handleUnsubscribe(c *Client, req Request) {
	c.mu.Lock()
	_, ok := c.subs[req.SubscriptionID]
	delete(c.subs, req.SubscriptionID)
	c.mu.Unlock()

	if !ok {
		h.sendError(c, req.Type, fmt.Sprintf("unknown subscription %q", req.SubscriptionID))
		return
	}
	h.send(c, UnsubscriptionConfirmed{Type: TypeUnsubscriptionConfirmed, SubscriptionID: req.SubscriptionID})
}

func (h *Hub) handleFilter(c *Client, req Request) {
	matchers, err := h.compileFilters(req.Filters)
	if err != nil {
		h.sendError(c, req.Type, err.Error())
		return
	}

	specs := req.Filters
	if specs == nil {
		specs = []filter.Spec{}
	}
	c.mu.Lock()
	c.filterSpecs = specs
	c.filters = matchers
	c.mu.Unlock()

	h.send(c, FilterUpdated{Type: TypeFilterUpdated, Filters: specs})
}

func (h *Hub) handlePing(c *Client, _ Request) {
	h.send(c, Pong{Type: TypePong, Timestamp: h.now().UTC()})
}

func (h *Hub) handleBufferRequest(c *Client, req Request) {
	count := req.Count
	if count <= 0 {
		count = model.DefaultReplayCount
	}
	events := h.ring.Snapshot(min(count, h.ring.Cap()))
	if events == nil {
		events = []*model.LogEvent{}
	}
	h.send(c, BufferedMessages{Type: TypeBufferedMessages, Messages: events, Count: len(events)})
}
