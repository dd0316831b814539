// Package natsfwd republishes decoded events and stats snapshots to NATS.
package natsfwd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "lotus.logs"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("natsfwd: forwarder closed")

// Publisher is the subset of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds NATS forwarding configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// SubjectPrefix is prepended to the protocol name: <prefix>.<protocol>.
	SubjectPrefix string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "lotus",
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// Forwarder is a dispatcher consumer that publishes each event as canonical
// JSON on <prefix>.<protocol>.
type Forwarder struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS and returns a forwarder bound to the connection.
func Connect(cfg Config) (*Forwarder, error) {
	logger := cfg.Logger.With().Str("component", "natsfwd").Logger()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsfwd: connect %s: %w", cfg.URL, err)
	}
	f := New(conn, cfg.SubjectPrefix, cfg.Logger)
	f.conn = conn
	return f, nil
}

// New wraps an existing publisher.
func New(pub Publisher, prefix string, logger zerolog.Logger) *Forwarder {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		logger: logger.With().Str("component", "natsfwd").Logger(),
	}
}

// Subject returns the subject an event of protocol p is published on.
func (f *Forwarder) Subject(p model.Protocol) string {
	if p == "" {
		return f.prefix + ".unknown"
	}
	return f.prefix + "." + string(p)
}

// Name identifies the forwarder as a dispatcher consumer.
func (f *Forwarder) Name() string { return "nats" }

// Consume publishes one event.
func (f *Forwarder) Consume(e *model.LogEvent) error {
	if f.conn != nil && f.conn.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("natsfwd: marshal event: %w", err)
	}
	if err := f.pub.Publish(f.Subject(e.Protocol), data); err != nil {
		return fmt.Errorf("natsfwd: publish: %w", err)
	}
	return nil
}

// Publish implements stats.Sink, sending snapshots on <prefix>.stats.
func (f *Forwarder) Publish(ctx context.Context, snap stats.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("natsfwd: marshal snapshot: %w", err)
	}
	return f.pub.Publish(f.prefix+".stats", data)
}

// Close flushes buffered publishes and closes the connection, if owned.
func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
		return fmt.Errorf("natsfwd: drain: %w", err)
	}
	return nil
}
