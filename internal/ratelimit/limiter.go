// Package ratelimit implements connection admission for hub subscribers.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRejected is the parent of every admission failure.
	ErrRejected = errors.New("connection rejected")
	// ErrPerIPLimit means the address exhausted its quota for the current window.
	ErrPerIPLimit = fmt.Errorf("%w: too many connections from this address", ErrRejected)
	// ErrCapacity means the server is at its global client limit.
	ErrCapacity = fmt.Errorf("%w: server at capacity", ErrRejected)
)

// Limiter admits connections under a per-address quota that resets every
// Window and a global cap on concurrently open clients.
type Limiter struct {
	maxPerIP int
	maxTotal int
	window   time.Duration

	mu     sync.Mutex
	perIP  map[string]*entry
	active map[string]int
	total  int
}

// entry is one address's quota. Each address has its own window.
type entry struct {
	count       int
	windowStart time.Time
}

// New builds a Limiter. Non-positive limits disable the respective check.
func New(maxPerIP, maxTotal int, window time.Duration) *Limiter {
	return &Limiter{
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
		window:   window,
		perIP:    make(map[string]*entry),
		active:   make(map[string]int),
	}
}

// Admit records a connection attempt from ip at now. An address's counter
// is reset lazily when its own window has elapsed.
func (l *Limiter) Admit(ip string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.perIP[ip]
	if !ok {
		e = &entry{windowStart: now}
		l.perIP[ip] = e
	} else if l.window > 0 && now.Sub(e.windowStart) > l.window {
		e.count = 0
		e.windowStart = now
	}

	if l.maxPerIP > 0 && e.count >= l.maxPerIP {
		return ErrPerIPLimit
	}
	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return ErrCapacity
	}

	e.count++
	l.active[ip]++
	l.total++
	return nil
}

// Release marks a previously admitted connection from ip as closed, freeing
// its global slot and its place in the address quota.
func (l *Limiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.active[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.active, ip)
	} else {
		l.active[ip] = n - 1
	}
	if l.total > 0 {
		l.total--
	}
	if e, ok := l.perIP[ip]; ok {
		if e.count > 1 {
			e.count--
		} else {
			delete(l.perIP, ip)
		}
	}
}

// Active returns the number of admitted connections not yet released.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// ActiveFor returns the open connection count for ip.
func (l *Limiter) ActiveFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ip]
}
