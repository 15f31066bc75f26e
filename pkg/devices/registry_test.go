package devices

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// logCounter is a slog.Handler counting records by message.
type logCounter struct {
	mu   sync.Mutex
	msgs []string
}

func (c *logCounter) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCounter) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, r.Message)
	return nil
}

func (c *logCounter) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCounter) WithGroup(string) slog.Handler      { return c }

func (c *logCounter) count(msg string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func newTestRegistry(timeout time.Duration) (*Registry, *testClock, *logCounter) {
	clock := &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	logs := &logCounter{}
	r := NewRegistry(timeout, slog.New(logs))
	r.now = clock.now
	return r, clock, logs
}

func TestRegistryStaleness(t *testing.T) {
	r, clock, logs := newTestRegistry(180 * time.Second)
	r.UpdateStatus("esp32_07", "online", false)

	clock.advance(100 * time.Second)
	if got := r.Connected(); !slices.Equal(got, []string{"esp32_07"}) {
		t.Fatalf("Connected() at t=100s = %v", got)
	}

	clock.advance(80 * time.Second)
	if got := r.Connected(); len(got) != 0 {
		t.Fatalf("Connected() at t=180s = %v, want none", got)
	}
	if got := logs.count("Device timed out"); got != 1 {
		t.Errorf("timeout warnings = %d, want 1", got)
	}

	// Already offline; a second sweep must not report it again.
	clock.advance(time.Hour)
	r.Connected()
	if got := logs.count("Device timed out"); got != 1 {
		t.Errorf("timeout warnings after second sweep = %d, want 1", got)
	}
}

func TestRegistryRetainedOnlineNotTrusted(t *testing.T) {
	r, _, logs := newTestRegistry(0)
	r.UpdateStatus("d1", "online", true)

	if got := r.Connected(); len(got) != 0 {
		t.Fatalf("retained online counted as connected: %v", got)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != "d1" || snap[0].Status != StatusOffline {
		t.Fatalf("Snapshot() = %+v, want d1 offline", snap)
	}
	if got := logs.count("Device connected"); got != 0 {
		t.Errorf("retained online logged a connect %d times", got)
	}

	r.UpdateStatus("d1", "online", false)
	if got := r.Connected(); !slices.Equal(got, []string{"d1"}) {
		t.Fatalf("Connected() after live online = %v", got)
	}
	if got := logs.count("Device connected"); got != 1 {
		t.Errorf("connect warnings = %d, want 1", got)
	}
}

func TestRegistryTransitionLogging(t *testing.T) {
	r, _, logs := newTestRegistry(0)

	r.UpdateStatus("d1", "online", false)
	r.UpdateStatus("d1", "online", false)
	if got := logs.count("Device connected"); got != 1 {
		t.Errorf("connect warnings = %d, want 1 (refresh must be silent)", got)
	}

	r.UpdateStatus("d1", "offline", false)
	r.UpdateStatus("d1", "offline", false)
	if got := logs.count("Device disconnected"); got != 1 {
		t.Errorf("disconnect warnings = %d, want 1", got)
	}
}

func TestRegistryRefreshExtendsPresence(t *testing.T) {
	r, clock, _ := newTestRegistry(180 * time.Second)
	r.UpdateStatus("d1", "online", false)

	clock.advance(170 * time.Second)
	r.UpdateStatus("d1", "online", false)

	clock.advance(170 * time.Second)
	if got := r.Connected(); !slices.Equal(got, []string{"d1"}) {
		t.Fatalf("Connected() after refresh = %v", got)
	}

	clock.advance(10 * time.Second)
	if got := r.Connected(); len(got) != 0 {
		t.Fatalf("Connected() past refreshed deadline = %v", got)
	}
}

func TestRegistryIgnoresUnrecognizedStatus(t *testing.T) {
	r, _, logs := newTestRegistry(0)
	r.UpdateStatus("d1", "rebooting", false)
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("unrecognized status created a record: %+v", got)
	}
	if got := logs.count("Device connected"); got != 0 {
		t.Errorf("unrecognized status logged a connect")
	}
}

func TestRegistryNormalizesStatusPayload(t *testing.T) {
	r, _, _ := newTestRegistry(0)
	r.UpdateStatus("d1", " Online\n", false)
	if got := r.Connected(); !slices.Equal(got, []string{"d1"}) {
		t.Fatalf("Connected() = %v, want [d1]", got)
	}
}

func TestRegistryConnectedSorted(t *testing.T) {
	r, _, _ := newTestRegistry(0)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		r.UpdateStatus(id, "online", false)
	}
	want := []string{"alpha", "mid", "zeta"}
	if got := r.Connected(); !slices.Equal(got, want) {
		t.Fatalf("Connected() = %v, want %v", got, want)
	}
}
