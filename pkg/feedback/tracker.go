// Package feedback matches command publishes to the replies devices send on
// their /feedback topics and reports replies that never arrive.
//
// The tracker is armed for the lifetime of a scene run. Every qualifying
// publish records the status topic it expects a reply on, a reply resolves
// the record, and a per-record timer reports commands that stay unanswered
// past the deadline. A later publish to the same topic supersedes the
// earlier record without leaving a stale timer behind.
package feedback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/topic"
)

// DefaultTimeout is how long a command may stay unanswered before the
// tracker reports it.
const DefaultTimeout = time.Second

// Tracker tracks pending feedback for published commands.
//
// All state lives under one mutex so a superseding publish and a firing
// timer cannot race. Each record carries a generation; a timer only acts if
// the record it was armed for is still the current generation, so a
// superseded or resolved record turns its timer into a no-op.
type Tracker struct {
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	enabled bool
	gen     uint64
	pending map[string]*record
}

type record struct {
	statusTopic string
	issuedAt    time.Time
	gen         uint64
	timer       *time.Timer
}

// NewTracker returns a tracker reporting commands unanswered after timeout.
// A timeout of zero or less means DefaultTimeout.
func NewTracker(timeout time.Duration, log *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		timeout: timeout,
		log:     log,
		pending: make(map[string]*record),
	}
}

// Enable arms the tracker for a scene run, dropping any leftover state.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
	t.enabled = true
}

// Disable disarms the tracker at the end of a run. Records still pending are
// reported once and dropped.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	for cmd, rec := range t.pending {
		rec.timer.Stop()
		t.log.Warn("Feedback still pending", "topic", cmd, "expected", rec.statusTopic)
	}
	clear(t.pending)
}

// Enabled reports whether the tracker is armed.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Pending returns the number of commands still waiting for a reply.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Track records a published command if it is one that expects a feedback
// reply. While the tracker is disabled, or for commands that never produce
// feedback (media markers, status channels, stop-like payloads), it does
// nothing. Tracking a topic that is already pending supersedes the earlier
// record; the old deadline is discarded, not reported.
func (t *Tracker) Track(cmdTopic, payload string) {
	statusTopic, ok := topic.FeedbackTopic(cmdTopic, payload)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if old := t.pending[cmdTopic]; old != nil {
		old.timer.Stop()
	}
	t.gen++
	rec := &record{
		statusTopic: statusTopic,
		issuedAt:    time.Now(),
		gen:         t.gen,
	}
	gen := t.gen
	rec.timer = time.AfterFunc(t.timeout, func() { t.expire(cmdTopic, gen) })
	t.pending[cmdTopic] = rec
}

// Resolve consumes a message on a feedback topic. The matching pending
// record, if any, is removed and its timer canceled; OK resolves quietly,
// anything else is reported. It returns whether a record matched.
func (t *Tracker) Resolve(statusTopic, payload string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for cmd, rec := range t.pending {
		if rec.statusTopic != statusTopic {
			continue
		}
		rec.timer.Stop()
		delete(t.pending, cmd)
		if payload == "OK" {
			t.log.Info("Feedback OK", "topic", cmd, "latency", time.Since(rec.issuedAt))
		} else {
			t.log.Warn("Feedback ERROR", "topic", cmd, "payload", payload)
		}
		return true
	}

	t.log.Debug("feedback without a pending command", "topic", statusTopic, "payload", payload)
	return false
}

func (t *Tracker) expire(cmdTopic string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	rec := t.pending[cmdTopic]
	if rec == nil || rec.gen != gen {
		// Superseded or already resolved.
		return
	}
	delete(t.pending, cmdTopic)
	t.log.Warn("Feedback TIMEOUT", "topic", cmdTopic, "expected", rec.statusTopic, "timeout", t.timeout)
}

func (t *Tracker) clearLocked() {
	for _, rec := range t.pending {
		rec.timer.Stop()
	}
	clear(t.pending)
}
