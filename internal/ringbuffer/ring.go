// Package ringbuffer holds the most recent N values for replay.
package ringbuffer

import (
	"sync"
	"sync/atomic"
)

type slot[T any] struct {
	seq   uint64
	value T
}

// Ring is a bounded append-only buffer. Appends are serialized among
// writers; Snapshot never takes the writer lock and never observes a
// partially written slot.
type Ring[T any] struct {
	slots []atomic.Pointer[slot[T]]
	next  atomic.Uint64

	wmu sync.Mutex
}

// New returns a ring holding up to capacity values. A non-positive capacity
// yields a ring of size one.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{slots: make([]atomic.Pointer[slot[T]], capacity)}
}

// Append stores v, evicting the oldest value when full.
func (r *Ring[T]) Append(v T) {
	r.wmu.Lock()
	seq := r.next.Load()
	r.slots[seq%uint64(len(r.slots))].Store(&slot[T]{seq: seq, value: v})
	r.next.Store(seq + 1)
	r.wmu.Unlock()
}

// Snapshot returns up to n of the most recent values, oldest first.
func (r *Ring[T]) Snapshot(n int) []T {
	if n <= 0 {
		return nil
	}
	end := r.next.Load()
	size := uint64(len(r.slots))
	count := min(uint64(n), size, end)
	start := end - count

	out := make([]T, 0, count)
	for seq := start; seq < end; seq++ {
		s := r.slots[seq%size].Load()
		// Overwritten by a newer append since end was read.
		if s == nil || s.seq != seq {
			continue
		}
		out = append(out, s.value)
	}
	return out
}

// Len reports how many values are currently held.
func (r *Ring[T]) Len() int {
	return int(min(r.next.Load(), uint64(len(r.slots))))
}

// Cap reports the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Total reports how many values have ever been appended.
func (r *Ring[T]) Total() uint64 { return r.next.Load() }
