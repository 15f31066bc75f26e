package scene

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSceneRunning is returned by Start while another scene run is active.
var ErrSceneRunning = errors.New("scene: scene already running")

// DefaultTick is the tick interval of the run loop when Runner.Tick is not
// set.
const DefaultTick = 100 * time.Millisecond

// Run outcomes recorded in the history store.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// RunRecord describes one finished scene run.
type RunRecord struct {
	SceneID   string
	Trigger   string
	Outcome   string
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
	States    []StateVisit
}

// FeedbackSwitch gates feedback tracking to the lifetime of a run.
type FeedbackSwitch interface {
	Enable()
	Disable()
}

// MediaEngine is the runner-facing surface of a media engine: poll the
// files that finished since the last call and hard-stop everything on the
// stop path.
type MediaEngine interface {
	Poll() []string
	StopAll()
}

// AudioEngine adds the scene preload pass to a MediaEngine.
type AudioEngine interface {
	MediaEngine
	Preload(files []string)
}

// StopBroadcaster publishes the room-wide actuator stop.
type StopBroadcaster interface {
	BroadcastStop(ctx context.Context) error
}

// RunSink receives finished run records.
type RunSink interface {
	Record(rec RunRecord)
}

// Runner drives one scene at a time: admission, the tick loop, transition
// bookkeeping and the stop path. Only the run goroutine mutates the machine
// and consumes event queues; everything else reaches the run through the
// Events queues or Stop.
type Runner struct {
	Executor  *Executor
	Events    *Events
	Tracker   FeedbackSwitch
	Audio     AudioEngine
	Video     MediaEngine
	Broadcast StopBroadcaster
	History   RunSink
	Tick      time.Duration
	Log       *slog.Logger

	mu         sync.Mutex
	running    bool
	stopping   bool
	stopReason string
	cancel     context.CancelFunc
	done       chan struct{}
	machine    *Machine
}

type run struct {
	scene   *Scene
	machine *Machine
	trigger string
	started time.Time
}

// Start admits and launches a scene run; s must come from Load or Parse.
// It enables feedback tracking, preloads the scene's audio, enters the
// initial state and then hands off to the tick goroutine, which runs until
// the scene reaches END or Stop is called. A second Start while a run is
// active returns ErrSceneRunning.
func (r *Runner) Start(ctx context.Context, s *Scene, trigger string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log().Warn("scene trigger dropped, a scene is already running", "scene", s.SceneID, "trigger", trigger)
		return ErrSceneRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	machine := NewMachine(s)
	done := make(chan struct{})
	r.running = true
	r.stopping = false
	r.stopReason = ""
	r.cancel = cancel
	r.done = done
	r.machine = machine
	r.mu.Unlock()

	r.log().Info("scene starting", "scene", s.SceneID, "trigger", trigger)
	if r.Tracker != nil {
		r.Tracker.Enable()
	}
	if r.Audio != nil {
		audioFiles, _ := s.MediaFiles()
		r.Audio.Preload(audioFiles)
	}
	r.Events.Clear()
	r.Executor.ResetTimeline()

	machine.Start()
	name, st := machine.CurrentState()
	r.Executor.ExecuteOnEnter(runCtx, name, st)

	go r.loop(runCtx, &run{scene: s, machine: machine, trigger: trigger, started: time.Now()}, done)
	return nil
}

// Stop halts the active run with panic semantics: no onExit runs, the room
// stop broadcast goes out exactly once, media stops and the event queues
// clear. It reports whether a run was stopped and is safe to call at any
// time, including while no scene runs.
func (r *Runner) Stop(ctx context.Context, reason string) bool {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return false
	}
	r.stopping = true
	r.stopReason = reason
	cancel := r.cancel
	r.mu.Unlock()

	r.log().Info("scene stop requested", "reason", reason)
	r.broadcastStop(ctx)
	r.stopMedia()
	r.Events.Clear()
	cancel()
	return true
}

// Running reports whether a scene run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Progress returns the latest run snapshot, or the zero Progress when no
// scene has run yet.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	m := r.machine
	r.mu.Unlock()
	if m == nil {
		return Progress{}
	}
	return m.Progress()
}

// Done returns a channel closed when the current run's loop exits. Without
// an active run the returned channel is already closed.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

func (r *Runner) loop(ctx context.Context, rn *run, done chan struct{}) {
	defer close(done)

	tick := r.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	outcome, reason := OutcomeCompleted, ""
	disarmed := -1
	firstEval := true

loop:
	for {
		select {
		case <-ctx.Done():
			rn.machine.Goto(EndState)
			outcome, reason = OutcomeStopped, r.takeStopReason()
			break loop
		case <-ticker.C:
		}

		if rn.machine.Finished() {
			break loop
		}

		// Media end events feed the queues before transitions are checked
		// so an end observed this tick can fire this tick.
		if r.Audio != nil {
			for _, f := range r.Audio.Poll() {
				r.Events.PushAudioEnd(f)
			}
		}
		if r.Video != nil {
			for _, f := range r.Video.Poll() {
				r.Events.PushVideoEnd(f)
			}
		}

		name, st := rn.machine.CurrentState()
		elapsed := rn.machine.ElapsedInState()
		r.Executor.RunTimeline(ctx, name, st, elapsed)

		next, fromGlobal, matched := "", false, -1
		if g, ok := r.Events.Check(st.Transitions, elapsed, firstEval); ok {
			next = g
		} else if g, i, ok := r.Events.CheckGlobal(rn.scene.GlobalEvents, elapsed, firstEval, disarmed); ok {
			next, fromGlobal, matched = g, true, i
		}
		firstEval = false
		if next == "" {
			continue
		}

		if fromGlobal && next == EndState {
			// A scene-level event terminating the show is an emergency
			// stop: no onExit, broadcast the room stop, kill media.
			ev := &rn.scene.GlobalEvents[matched]
			r.log().Info("scene preempted by global event", "scene", rn.scene.SceneID, "state", name, "topic", ev.Topic)
			outcome, reason = OutcomeStopped, "global:"+string(ev.Type)
			if ev.Topic != "" {
				reason = "global:" + ev.Topic
			}
			r.emergencyStop(ctx, rn)
			break loop
		}

		r.log().Info("state transition", "scene", rn.scene.SceneID, "from", name, "to", next)
		r.Executor.ExecuteOnExit(ctx, name, st)
		rn.machine.Goto(next)
		r.Events.Clear()
		r.Executor.ResetTimeline()
		if fromGlobal {
			disarmed = matched
		} else {
			disarmed = -1
		}
		firstEval = true
		if next == EndState {
			break loop
		}
		r.Executor.ExecuteOnEnter(ctx, next, rn.scene.States[next])
	}

	r.finish(rn, outcome, reason)
}

// emergencyStop runs the stop side effects from inside the loop goroutine
// when a global event lands on EndState. A concurrent Stop that already
// broadcast wins; the machine still moves to END here.
func (r *Runner) emergencyStop(ctx context.Context, rn *run) {
	rn.machine.Goto(EndState)
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	r.mu.Unlock()
	r.broadcastStop(ctx)
	r.stopMedia()
	r.Events.Clear()
}

func (r *Runner) finish(rn *run, outcome, reason string) {
	if r.Tracker != nil {
		r.Tracker.Disable()
	}
	if r.History != nil {
		r.History.Record(RunRecord{
			SceneID:   rn.scene.SceneID,
			Trigger:   rn.trigger,
			Outcome:   outcome,
			Reason:    reason,
			StartedAt: rn.started,
			EndedAt:   time.Now(),
			States:    rn.machine.Visits(),
		})
	}

	r.mu.Lock()
	r.running = false
	r.stopping = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.log().Info("scene finished", "scene", rn.scene.SceneID, "outcome", outcome, "duration", time.Since(rn.started))
}

func (r *Runner) broadcastStop(ctx context.Context) {
	if r.Broadcast == nil {
		return
	}
	if err := r.Broadcast.BroadcastStop(ctx); err != nil {
		r.log().Error("stop broadcast failed", "error", err)
	}
}

func (r *Runner) stopMedia() {
	if r.Audio != nil {
		r.Audio.StopAll()
	}
	if r.Video != nil {
		r.Video.StopAll()
	}
}

func (r *Runner) takeStopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason == "" {
		return "canceled"
	}
	return r.stopReason
}

func (r *Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
