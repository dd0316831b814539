package hub

import (
	"encoding/json"
	"time"

	"github.com/tinytelemetry/lotus/internal/filter"
	"github.com/tinytelemetry/lotus/internal/model"
)

// Client request types.
const (
	TypeSubscribe     = "subscribe"
	TypeUnsubscribe   = "unsubscribe"
	TypeFilter        = "filter"
	TypePing          = "ping"
	TypeBufferRequest = "buffer_request"
)

// Server message types.
const (
	TypeConnection              = "connection"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeFilterUpdated           = "filter_updated"
	TypePong                    = "pong"
	TypeBufferedMessages        = "buffered_messages"
	TypeLogEvent                = "log_event"
	TypeError                   = "error"
	TypeServerShutdown          = "server_shutdown"
)

// Channel names that carry log events.
const (
	ChannelLogs = "logs"
	ChannelAll  = "all"
)

// Request is the union of every client message. Only the fields relevant to
// Type are read.
type Request struct {
	Type           string        `json:"type"`
	Channels       []string      `json:"channels,omitempty"`
	Filters        []filter.Spec `json:"filters,omitempty"`
	Throttle       int           `json:"throttle,omitempty"` // milliseconds
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Count          int           `json:"count,omitempty"`
}

// ConnectionMessage greets an admitted client.
type ConnectionMessage struct {
	Type       string    `json:"type"`
	ClientID   string    `json:"client_id"`
	ServerTime time.Time `json:"server_time"`
	BufferSize int       `json:"buffer_size"`
}

// SubscriptionConfirmed acknowledges a subscribe request.
type SubscriptionConfirmed struct {
	Type           string        `json:"type"`
	SubscriptionID string        `json:"subscription_id"`
	Channels       []string      `json:"channels"`
	Filters        []filter.Spec `json:"filters"`
	Throttle       int           `json:"throttle"`
}

// UnsubscriptionConfirmed acknowledges an unsubscribe request.
type UnsubscriptionConfirmed struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
}

// FilterUpdated acknowledges a connection-level filter replacement.
type FilterUpdated struct {
	Type    string        `json:"type"`
	Filters []filter.Spec `json:"filters"`
}

// Pong answers a ping.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// BufferedMessages answers a buffer_request, oldest first.
type BufferedMessages struct {
	Type     string            `json:"type"`
	Messages []*model.LogEvent `json:"messages"`
	Count    int               `json:"count"`
}

// LogEventMessage delivers one event to one subscription.
type LogEventMessage struct {
	Type           string          `json:"type"`
	SubscriptionID string          `json:"subscription_id"`
	Data           json.RawMessage `json:"data"`
}

// ErrorMessage reports a rejected or malformed request.
type ErrorMessage struct {
	Type        string `json:"type"`
	Error       string `json:"error"`
	RequestType string `json:"request_type,omitempty"`
}

// ShutdownMessage is the last message a client receives before the server closes.
type ShutdownMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
