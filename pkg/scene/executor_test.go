package scene

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuebox/cuebox/pkg/jsontime"
)

type recordingHandler struct {
	calls []string
	fail  bool
}

func (h *recordingHandler) HandleAction(_ context.Context, a *Action) error {
	h.calls = append(h.calls, string(a.Kind)+":"+string(a.Message))
	if h.fail {
		return errors.New("boom")
	}
	return nil
}

func quietExecutor() *Executor {
	return NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecutorDispatch(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionMQTT, h)
	e.RegisterHandler(ActionAudio, h)

	st := &State{
		OnEnter: []Action{
			{Kind: ActionMQTT, Topic: "room1/light", Message: "ON"},
			{Kind: ActionAudio, Message: "PLAY:a.mp3"},
		},
		OnExit: []Action{
			{Kind: ActionMQTT, Topic: "room1/light", Message: "OFF"},
		},
	}
	e.ExecuteOnEnter(context.Background(), "s1", st)
	e.ExecuteOnExit(context.Background(), "s1", st)

	want := []string{"mqtt:ON", "audio:PLAY:a.mp3", "mqtt:OFF"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, h.calls[i], want[i])
		}
	}
}

func TestExecutorFailingActionContinues(t *testing.T) {
	e := quietExecutor()
	failing := &recordingHandler{fail: true}
	fine := &recordingHandler{}
	e.RegisterHandler(ActionMQTT, failing)
	e.RegisterHandler(ActionAudio, fine)

	st := &State{OnEnter: []Action{
		{Kind: ActionMQTT, Topic: "room1/light", Message: "ON"},
		{Kind: ActionAudio, Message: "PLAY:a.mp3"},
	}}
	e.ExecuteOnEnter(context.Background(), "s1", st)
	if len(fine.calls) != 1 {
		t.Errorf("action after a failing one did not run: %v", fine.calls)
	}
}

func TestExecutorTimelineAtMostOnce(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionAudio, h)

	st := &State{Timeline: []TimelineItem{
		{At: 0, Action: &Action{Kind: ActionAudio, Message: "first"}},
		{At: jsontime.Seconds(time.Second), Action: &Action{Kind: ActionAudio, Message: "second"}},
	}}

	e.RunTimeline(context.Background(), "s1", st, 500*time.Millisecond)
	if len(h.calls) != 1 || h.calls[0] != "audio:first" {
		t.Fatalf("after 0.5s: %v", h.calls)
	}
	e.RunTimeline(context.Background(), "s1", st, 600*time.Millisecond)
	if len(h.calls) != 1 {
		t.Fatalf("item fired twice: %v", h.calls)
	}
	e.RunTimeline(context.Background(), "s1", st, 1500*time.Millisecond)
	if len(h.calls) != 2 || h.calls[1] != "audio:second" {
		t.Fatalf("after 1.5s: %v", h.calls)
	}
	e.RunTimeline(context.Background(), "s1", st, 2*time.Second)
	if len(h.calls) != 2 {
		t.Fatalf("items replayed without reset: %v", h.calls)
	}
}

// Items due on the same tick fire in at order, ties broken by source order.
func TestExecutorTimelineFiresInAtOrder(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionAudio, h)

	st := &State{Timeline: []TimelineItem{
		{At: jsontime.Seconds(2 * time.Second), Action: &Action{Kind: ActionAudio, Message: "x"}},
		{At: jsontime.Seconds(time.Second), Action: &Action{Kind: ActionAudio, Message: "y"}},
		{At: jsontime.Seconds(2 * time.Second), Action: &Action{Kind: ActionAudio, Message: "z"}},
	}}
	e.RunTimeline(context.Background(), "s1", st, 3*time.Second)

	want := []string{"audio:y", "audio:x", "audio:z"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, h.calls[i], want[i])
		}
	}
}

func TestExecutorTimelineGroupRunsInOrder(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionMQTT, h)
	e.RegisterHandler(ActionVideo, h)

	st := &State{Timeline: []TimelineItem{
		{At: 0, Actions: []Action{
			{Kind: ActionMQTT, Topic: "room1/light", Message: "ON"},
			{Kind: ActionVideo, Message: "PLAY_VIDEO:intro.mp4"},
		}},
	}}
	e.RunTimeline(context.Background(), "s1", st, time.Millisecond)

	want := []string{"mqtt:ON", "video:PLAY_VIDEO:intro.mp4"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, h.calls[i], want[i])
		}
	}
}

func TestExecutorResetTimelineReplays(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionAudio, h)

	st := &State{Timeline: []TimelineItem{
		{At: 0, Action: &Action{Kind: ActionAudio, Message: "hit"}},
	}}
	e.RunTimeline(context.Background(), "s1", st, time.Second)
	e.ResetTimeline()
	e.RunTimeline(context.Background(), "s1", st, time.Second)
	if len(h.calls) != 2 {
		t.Fatalf("re-entered state did not replay timeline: %v", h.calls)
	}
}

func TestExecutorUnregisteredKindIsSkipped(t *testing.T) {
	e := quietExecutor()
	h := &recordingHandler{}
	e.RegisterHandler(ActionAudio, h)

	st := &State{OnEnter: []Action{
		{Kind: ActionVideo, Message: "PLAY_VIDEO:x.mp4"},
		{Kind: ActionAudio, Message: "PLAY:a.mp3"},
	}}
	e.ExecuteOnEnter(context.Background(), "s1", st)
	if len(h.calls) != 1 || h.calls[0] != "audio:PLAY:a.mp3" {
		t.Errorf("calls = %v", h.calls)
	}
}
