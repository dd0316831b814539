// Package ingest funnels decoded events from every listener to the
// registered consumers.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

// Consumer receives every enriched event. Implementations must not retain
// and mutate the event; it is shared between consumers.
type Consumer interface {
	Name() string
	Consume(*model.LogEvent) error
}

// ConsumerFunc adapts a function into a Consumer.
type ConsumerFunc struct {
	ID string
	Fn func(*model.LogEvent) error
}

func (c ConsumerFunc) Name() string                    { return c.ID }
func (c ConsumerFunc) Consume(e *model.LogEvent) error { return c.Fn(e) }

// Dispatcher is the single funnel between listeners and consumers.
type Dispatcher struct {
	stats  *stats.Stats
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	consumers []Consumer

	errLog rate.Sometimes
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Stats  *stats.Stats
	Logger zerolog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewDispatcher builds a dispatcher with no consumers.
func NewDispatcher(conf ...DispatcherConfig) *Dispatcher {
	cfg := DispatcherConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{
		stats:  cfg.Stats,
		logger: cfg.Logger.With().Str("component", "dispatcher").Logger(),
		now:    cfg.Clock,
		errLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Register appends a consumer. Consumers are called in registration order.
func (d *Dispatcher) Register(c Consumer) {
	if c == nil {
		return
	}
	d.mu.Lock()
	d.consumers = append(d.consumers, c)
	d.mu.Unlock()
}

// Consumers returns the registered consumer names.
func (d *Dispatcher) Consumers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.consumers))
	for i, c := range d.consumers {
		names[i] = c.Name()
	}
	return names
}

// Run drains envelopes until ctx is done or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context, envelopes <-chan model.IngestEnvelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-envelopes:
			if !ok {
				return nil
			}
			d.Dispatch(env)
		}
	}
}

// Dispatch enriches and forwards one envelope synchronously.
func (d *Dispatcher) Dispatch(env model.IngestEnvelope) {
	if len(env.Events) == 0 {
		return
	}
	receivedAt := d.now().UTC()
	d.stats.RecordEnvelope(env.Protocol, env.Size, len(env.Events))

	d.mu.RLock()
	consumers := d.consumers
	d.mu.RUnlock()

	for _, ev := range env.Events {
		if ev == nil {
			continue
		}
		enrich(ev, env, receivedAt)
		for _, c := range consumers {
			if err := d.forward(c, ev); err != nil {
				d.stats.RecordForwardError()
				d.errLog.Do(func() {
					d.logger.Warn().Err(err).Str("consumer", c.Name()).Msg("consumer failed")
				})
			}
		}
	}
}

func (d *Dispatcher) forward(c Consumer, ev *model.LogEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Consume(ev)
}

func enrich(ev *model.LogEvent, env model.IngestEnvelope, receivedAt time.Time) {
	ev.ReceivedAt = receivedAt
	if ev.Timestamp.IsZero() {
		ev.Timestamp = receivedAt
	}
	if ev.Protocol == "" {
		ev.Protocol = env.Protocol
	}
	if ev.Transport == "" {
		ev.Transport = env.Transport
	}
	if ev.SourceIP == "" {
		ev.SourceIP = env.SourceIP
	}
}
