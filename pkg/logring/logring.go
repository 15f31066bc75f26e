// Package logring provides a slog.Handler that tees records into a bounded
// in-memory ring buffer and broadcasts them to subscriber channels. The
// dashboard uses it to serve a log tail and a live log stream without
// touching the process's primary log output.
package logring

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/cuebox/cuebox/pkg/buffer"
	"github.com/cuebox/cuebox/pkg/jsontime"
)

// DefaultCapacity is the ring size used when New is given a capacity <= 0.
const DefaultCapacity = 500

// LevelCritical is one step above slog.LevelError. It marks failures the
// controller cannot recover from on its own, such as an exhausted restart
// budget.
const LevelCritical = slog.LevelError + 4

// subscriberBuffer is the channel buffer per subscriber. Slow subscribers
// lose records rather than block logging.
const subscriberBuffer = 100

// Entry is a captured log record, flattened for display and JSON encoding.
type Entry struct {
	Time    jsontime.Milli    `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Handler is a slog.Handler that records entries into a shared ring and
// forwards every record to the wrapped handler. WithAttrs and WithGroup
// clones share the same ring.
type Handler struct {
	next  slog.Handler
	state *state
	// attrs holds logger-scoped attributes, already rendered and prefixed
	// with the groups open at the time they were added.
	attrs  map[string]string
	groups []string
}

type state struct {
	// mu guards subs and keeps ring insertion order aligned with fanout.
	mu   sync.Mutex
	ring *buffer.Ring[Entry]
	subs map[chan Entry]struct{}
}

// New wraps next with a ring of the given capacity.
func New(next slog.Handler, capacity int) *Handler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Handler{
		next: next,
		state: &state{
			ring: buffer.NewRing[Entry](capacity),
			subs: make(map[chan Entry]struct{}),
		},
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:    jsontime.Milli(r.Time),
		Level:   levelName(r.Level),
		Message: r.Message,
	}
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		e.Attrs = make(map[string]string, len(h.attrs)+r.NumAttrs())
	}
	for k, v := range h.attrs {
		e.Attrs[k] = v
	}
	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[prefix+a.Key] = a.Value.Resolve().String()
		return true
	})

	h.state.add(e)
	return h.next.Handle(ctx, r)
}

func levelName(l slog.Level) string {
	if l == LevelCritical {
		return "CRITICAL"
	}
	return l.String()
}

func (h *Handler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]string, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	prefix := h.prefix()
	for _, a := range attrs {
		merged[prefix+a.Key] = a.Value.Resolve().String()
	}
	return &Handler{
		next:   h.next.WithAttrs(attrs),
		state:  h.state,
		attrs:  merged,
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{
		next:   h.next.WithGroup(name),
		state:  h.state,
		attrs:  h.attrs,
		groups: append(slices.Clip(h.groups), name),
	}
}

func (s *state) add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.Add(e)

	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Snapshot returns up to n of the most recent entries, oldest first.
// n <= 0 returns everything in the ring.
func (h *Handler) Snapshot(n int) []Entry {
	return h.state.ring.Last(n)
}

// Subscribe registers a channel receiving every new entry. The returned
// cancel function must be called to release the subscription; the channel is
// closed afterwards.
func (h *Handler) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)
	s := h.state

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		_, ok := s.subs[ch]
		delete(s.subs, ch)
		s.mu.Unlock()
		if ok {
			close(ch)
		}
	}
	return ch, cancel
}
