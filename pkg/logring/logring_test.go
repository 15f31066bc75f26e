package logring_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cuebox/cuebox/pkg/logring"
)

func newTestLogger(capacity int) (*slog.Logger, *logring.Handler) {
	h := logring.New(slog.NewTextHandler(io.Discard, nil), capacity)
	return slog.New(h), h
}

func TestSnapshot(t *testing.T) {
	logger, h := newTestLogger(10)

	logger.Info("scene started", "scene", "intro.json")
	logger.Warn("feedback timeout", "topic", "room1/light")
	logger.Info("scene finished")

	got := h.Snapshot(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Message != "scene started" || got[2].Message != "scene finished" {
		t.Errorf("entries out of order: %v", got)
	}
	if got[0].Attrs["scene"] != "intro.json" {
		t.Errorf("expected scene attr, got %v", got[0].Attrs)
	}
	if got[1].Level != slog.LevelWarn.String() {
		t.Errorf("expected WARN level, got %s", got[1].Level)
	}
}

func TestSnapshotLimit(t *testing.T) {
	logger, h := newTestLogger(10)

	logger.Info("one")
	logger.Info("two")
	logger.Info("three")

	got := h.Snapshot(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("expected most recent entries, got %v", got)
	}
}

func TestRingWrap(t *testing.T) {
	logger, h := newTestLogger(3)

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		logger.Info(msg)
	}

	got := h.Snapshot(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries after wrap, got %d", len(got))
	}
	want := []string{"c", "d", "e"}
	for i, w := range want {
		if got[i].Message != w {
			t.Errorf("entry %d = %q, want %q", i, got[i].Message, w)
		}
	}
}

func TestSubscribe(t *testing.T) {
	logger, h := newTestLogger(10)

	ch, cancel := h.Subscribe()
	defer cancel()

	logger.Info("device online", "device", "btn1")

	select {
	case e := <-ch:
		if e.Message != "device online" {
			t.Errorf("expected device online, got %q", e.Message)
		}
		if e.Attrs["device"] != "btn1" {
			t.Errorf("expected device attr, got %v", e.Attrs)
		}
	default:
		t.Fatal("expected entry on subscriber channel")
	}
}

func TestSubscribeCancel(t *testing.T) {
	logger, h := newTestLogger(10)

	ch, cancel := h.Subscribe()
	cancel()

	// Channel is closed and no longer receives.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Logging after cancel must not panic.
	logger.Info("after cancel")

	// Double cancel must not panic.
	cancel()
}

func TestSlowSubscriberDropped(t *testing.T) {
	logger, h := newTestLogger(10)

	ch, cancel := h.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer without reading; logging must not block.
	for i := 0; i < 300; i++ {
		logger.Info("burst")
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained >= 300 {
		t.Errorf("expected some but not all entries delivered, got %d", drained)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	logger, h := newTestLogger(10)

	logger.With("room", "room1").WithGroup("mqtt").Info("connected", "addr", "tcp://localhost")

	got := h.Snapshot(0)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Attrs["room"] != "room1" {
		t.Errorf("expected logger-scoped attr, got %v", got[0].Attrs)
	}
	if got[0].Attrs["mqtt.addr"] != "tcp://localhost" {
		t.Errorf("expected group-prefixed attr, got %v", got[0].Attrs)
	}
}
