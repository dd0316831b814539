package duckdb

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
)

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		if err := buf.Consume(testEvent(time.Now(), "test message")); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	// Stop should flush all pending events
	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 10 {
		t.Errorf("after Stop, TotalEventCount = %d, want 10", count)
	}
	if buf.Flushed() != 10 {
		t.Errorf("Flushed = %d, want 10", buf.Flushed())
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 50, FlushInterval: time.Hour})

	for i := 0; i < 120; i++ {
		buf.Add(testEvent(time.Now(), "batch test"))
	}

	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 120 {
		t.Errorf("after batch insert, TotalEventCount = %d, want 120", count)
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 50

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerGoroutine; i++ {
				buf.Add(testEvent(time.Now(), "concurrent test"))
			}
		}()
	}

	wg.Wait()
	buf.Stop()

	expected := int64(numGoroutines * eventsPerGoroutine)
	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != expected {
		t.Errorf("concurrent insert TotalEventCount = %d, want %d", count, expected)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	buf.Add(testEvent(time.Now(), "idempotent stop"))

	buf.Stop()
	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 1 {
		t.Errorf("after double Stop, TotalEventCount = %d, want 1", count)
	}
}

func TestInsertBuffer_RejectsAfterStop(t *testing.T) {
	buf := NewInsertBuffer(newTestStore(t))
	buf.Stop()

	if err := buf.Consume(testEvent(time.Now(), "late")); !errors.Is(err, ErrBufferStopped) {
		t.Fatalf("Consume after Stop = %v, want ErrBufferStopped", err)
	}
	if buf.Name() != "duckdb" {
		t.Errorf("Name = %q, want duckdb", buf.Name())
	}
}

type failingWriter struct {
	calls atomic.Int32
}

func (w *failingWriter) InsertEventBatch([]*model.LogEvent) error {
	w.calls.Add(1)
	return errors.New("disk full")
}

func TestInsertBuffer_WriterErrorsDoNotPropagate(t *testing.T) {
	w := &failingWriter{}
	buf := NewInsertBuffer(w, InsertBufferConfig{BatchSize: 1})

	for i := 0; i < 3; i++ {
		if err := buf.Consume(testEvent(time.Now(), "x")); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	buf.Stop()

	if got := w.calls.Load(); got != 3 {
		t.Errorf("writer calls = %d, want 3", got)
	}
	if buf.Flushed() != 0 {
		t.Errorf("Flushed = %d, want 0", buf.Flushed())
	}
}

type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (w *blockingWriter) InsertEventBatch([]*model.LogEvent) error {
	w.calls.Add(1)
	w.entered <- struct{}{}
	<-w.release
	return nil
}

func TestInsertBuffer_SlowWriterDoesNotBlockConsume(t *testing.T) {
	w := &blockingWriter{entered: make(chan struct{}, 8), release: make(chan struct{})}
	buf := NewInsertBuffer(w, InsertBufferConfig{BatchSize: 1, FlushQueueSize: 1, FlushInterval: time.Hour})

	if err := buf.Consume(testEvent(time.Now(), "first")); err != nil {
		t.Fatalf("Consume first: %v", err)
	}
	select {
	case <-w.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never called")
	}

	// Fills the queue while the worker is stuck in the writer.
	if err := buf.Consume(testEvent(time.Now(), "second")); err != nil {
		t.Fatalf("Consume second: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- buf.Consume(testEvent(time.Now(), "third")) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrBatchDropped) {
			t.Fatalf("Consume third = %v, want ErrBatchDropped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Consume blocked on a slow writer")
	}
	if buf.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", buf.Dropped())
	}

	close(w.release)
	buf.Stop()

	if got := w.calls.Load(); got != 2 {
		t.Errorf("writer calls = %d, want 2", got)
	}
	if buf.Flushed() != 2 {
		t.Errorf("Flushed = %d, want 2", buf.Flushed())
	}
}
