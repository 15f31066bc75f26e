// Package buffer provides a bounded sliding-window ring. Adds never block;
// once the ring is full every Add evicts the oldest element. The log handler
// keeps its dashboard tail in one, the video engine the player's recent
// stderr lines.
package buffer

import "sync"

// Ring is a fixed-capacity ring holding the most recent elements. Make one
// with NewRing; the zero value has no capacity.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	pos  int
	full bool
}

// NewRing returns a ring holding up to capacity elements. A capacity below 1
// is raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Add appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = v
	r.pos++
	if r.pos == len(r.buf) {
		r.pos = 0
		r.full = true
	}
}

// Len returns how many elements the ring holds.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// Last returns up to n of the most recent elements, oldest first. n <= 0
// returns everything held.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	if r.full {
		out = make([]T, 0, len(r.buf))
		out = append(out, r.buf[r.pos:]...)
		out = append(out, r.buf[:r.pos]...)
	} else {
		out = append(out, r.buf[:r.pos]...)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
