package stats

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSampleInterval is how often snapshots are pushed to the sink.
const DefaultSampleInterval = 30 * time.Second

// Sink receives periodic counter snapshots.
type Sink interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// LogSink writes snapshots to a logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

// Publish implements Sink.
func (l LogSink) Publish(_ context.Context, snap Snapshot) error {
	l.Logger.Debug().
		Uint64("messages", snap.Messages).
		Uint64("bytes", snap.Bytes).
		Uint64("decode_errors", snap.DecodeErrors).
		Uint64("forward_errors", snap.ForwardErrors).
		Int64("active_clients", snap.ActiveClients).
		Uint64("admission_rejected", snap.AdmissionRejected).
		Uint64("events_filtered", snap.EventsFiltered).
		Uint64("events_dropped", snap.EventsDropped).
		Msg("stats snapshot")
	return nil
}

// Sampler pushes snapshots of a Stats to a Sink on a fixed interval and once
// more on shutdown.
type Sampler struct {
	stats    *Stats
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler starts sampling s into sink.
func NewSampler(s *Stats, sink Sink, interval time.Duration, logger zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	sm := &Sampler{
		stats:    s,
		sink:     sink,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	sm.wg.Add(1)
	go sm.flushLoop()
	return sm
}

func (sm *Sampler) flushLoop() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			sm.publish()
			return
		case <-ticker.C:
			sm.publish()
		}
	}
}

func (sm *Sampler) publish() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sm.sink.Publish(ctx, sm.stats.Snapshot()); err != nil {
		sm.logger.Warn().Err(err).Msg("stats sink publish failed")
	}
}

// Stop publishes a final snapshot and waits for the loop to exit.
func (sm *Sampler) Stop() {
	sm.cancel()
	sm.wg.Wait()
}
