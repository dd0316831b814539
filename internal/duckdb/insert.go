package duckdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/lotus/internal/model"
)

// Insert buffer defaults.
const (
	DefaultBatchSize      = 2000
	DefaultFlushInterval  = 100 * time.Millisecond
	DefaultFlushQueueSize = 64
)

var (
	// ErrBufferStopped is returned when events are added after Stop.
	ErrBufferStopped = errors.New("duckdb: insert buffer stopped")
	// ErrBatchDropped is returned when a full batch found the flush queue full.
	ErrBatchDropped = errors.New("duckdb: flush queue full, batch dropped")
)

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Logger         zerolog.Logger
}

// InsertBuffer batches events and flushes them to DuckDB asynchronously.
// It is a dispatcher consumer: Consume never blocks on DuckDB writes. When the
// flush queue is full the batch is dropped and counted.
type InsertBuffer struct {
	writer        model.EventWriter
	logger        zerolog.Logger
	mu            sync.Mutex
	pending       []*model.LogEvent
	stopped       bool
	flushChan     chan []*model.LogEvent
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once

	droppedBatches atomic.Int64
	dropped        atomic.Uint64
	flushed        atomic.Uint64
	bpLog          rate.Sometimes
	errLog         rate.Sometimes
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.EventWriter, conf ...InsertBufferConfig) *InsertBuffer {
	cfg := InsertBufferConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushQueueSize <= 0 {
		cfg.FlushQueueSize = DefaultFlushQueueSize
	}

	b := &InsertBuffer{
		writer:        writer,
		logger:        cfg.Logger.With().Str("component", "duckdb_insert").Logger(),
		pending:       make([]*model.LogEvent, 0, cfg.BatchSize),
		flushChan:     make(chan []*model.LogEvent, cfg.FlushQueueSize),
		maxBatch:      cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		done:          make(chan struct{}),
		bpLog:         rate.Sometimes{Interval: 10 * time.Second},
		errLog:        rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// Name identifies the buffer as a dispatcher consumer.
func (b *InsertBuffer) Name() string { return "duckdb" }

// Consume queues an event for persistence.
func (b *InsertBuffer) Consume(e *model.LogEvent) error {
	return b.Add(e)
}

// Flushed returns the number of events written so far.
func (b *InsertBuffer) Flushed() uint64 {
	return b.flushed.Load()
}

// Dropped returns the number of events discarded because the flush queue was full.
func (b *InsertBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending(false)
		case <-b.done:
			b.drainPending(true) // final drain
			return
		}
	}
}

func (b *InsertBuffer) logBackpressure(size int) {
	count := b.droppedBatches.Add(1)
	b.bpLog.Do(func() {
		b.logger.Warn().Int64("dropped_batches", count).Int("batch", size).Msg("flush queue full, dropping batch")
	})
}

func (b *InsertBuffer) logFlushError(err error) {
	b.errLog.Do(func() {
		b.logger.Error().Err(err).Msg("flush failed")
	})
}

// drainPending moves pending events to the flush channel. Only the final
// drain at Stop waits for room in the queue.
func (b *InsertBuffer) drainPending(wait bool) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]*model.LogEvent, 0, b.maxBatch)
	b.mu.Unlock()

	if wait {
		b.flushChan <- batch
		return
	}
	_ = b.enqueue(batch)
}

func (b *InsertBuffer) enqueue(batch []*model.LogEvent) error {
	select {
	case b.flushChan <- batch:
		return nil
	default:
		b.dropped.Add(uint64(len(batch)))
		b.logBackpressure(len(batch))
		return ErrBatchDropped
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			b.logFlushError(err)
		}
	}
}

// Add queues an event for batch insertion. It returns ErrBatchDropped when the
// batch it completed could not be queued.
func (b *InsertBuffer) Add(e *model.LogEvent) error {
	if e == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrBufferStopped
	}
	b.pending = append(b.pending, e)
	if len(b.pending) < b.maxBatch {
		return nil
	}
	batch := b.pending
	b.pending = make([]*model.LogEvent, 0, b.maxBatch)
	// enqueue never blocks; holding mu keeps it ordered before Stop closes flushChan.
	return b.enqueue(batch)
}

// Stop flushes remaining events and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.done)
		// The tick loop's final drain must land before flushChan closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

func (b *InsertBuffer) flushBatch(batch []*model.LogEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if err := b.writer.InsertEventBatch(batch); err != nil {
		return err
	}
	b.flushed.Add(uint64(len(batch)))
	return nil
}

// InsertEventBatch appends events into DuckDB in a single transaction.
// If the batch fails it is retried event-by-event to salvage what it can.
func (s *Store) InsertEventBatch(events []*model.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, events)
	if err == nil {
		return nil
	}

	var failed int
	for _, e := range events {
		if rerr := s.insertBatchTx(ctx, []*model.LogEvent{e}); rerr != nil {
			failed++
			s.logger.Warn().Err(rerr).Str("protocol", string(e.Protocol)).Msg("dropping event")
		}
	}
	if failed == len(events) {
		return fmt.Errorf("insert batch: %w", err)
	}
	if failed > 0 {
		s.logger.Warn().Int("dropped", failed).Int("batch", len(events)).Msg("batch partially failed")
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, events []*model.LogEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (event_id, timestamp, received_at, severity, level, facility, hostname, source, message, protocol, transport, source_ip, fields) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		fieldsJSON := []byte("{}")
		if len(e.Fields) > 0 {
			data, merr := json.Marshal(e.Fields)
			if merr != nil {
				s.logger.Debug().Err(merr).Msg("fields not serialisable, storing empty object")
			} else {
				fieldsJSON = data
			}
		}

		var receivedAt any
		if !e.ReceivedAt.IsZero() {
			receivedAt = e.ReceivedAt.UTC()
		}
		var facility any
		if e.Facility >= 0 {
			facility = e.Facility
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = e.ReceivedAt
		}

		if _, err := stmt.ExecContext(
			ctx,
			uuid.NewString(), ts.UTC(), receivedAt, int8(e.Severity), e.Level().String(), facility,
			e.Hostname, e.Source, e.Message, string(e.Protocol), string(e.Transport), e.SourceIP,
			string(fieldsJSON),
		); err != nil {
			return fmt.Errorf("event insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
