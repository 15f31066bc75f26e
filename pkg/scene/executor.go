package scene

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cuebox/cuebox/pkg/jsontime"
)

// ActionHandler executes one action kind on behalf of the executor.
type ActionHandler interface {
	HandleAction(ctx context.Context, a *Action) error
}

// ActionHandlerFunc adapts a function to an ActionHandler.
type ActionHandlerFunc func(ctx context.Context, a *Action) error

func (f ActionHandlerFunc) HandleAction(ctx context.Context, a *Action) error {
	return f(ctx, a)
}

// Executor dispatches actions to registered handlers and tracks which
// timeline items already fired during the current state visit. A failing
// action is logged and the rest of its sequence still runs.
type Executor struct {
	handlers map[ActionKind]ActionHandler
	log      *slog.Logger

	fired    map[timelineKey]struct{}
	orderFor string
	order    []int
}

// timelineKey is the stable identity of a timeline item within one state
// visit.
type timelineKey struct {
	state string
	index int
	at    jsontime.Seconds
}

func NewExecutor(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		handlers: make(map[ActionKind]ActionHandler),
		log:      log,
		fired:    make(map[timelineKey]struct{}),
	}
}

// RegisterHandler installs the handler for one action kind, replacing any
// previous registration.
func (e *Executor) RegisterHandler(kind ActionKind, h ActionHandler) {
	e.handlers[kind] = h
}

// ExecuteOnEnter runs the state's onEnter actions in source order.
func (e *Executor) ExecuteOnEnter(ctx context.Context, name string, st *State) {
	for i := range st.OnEnter {
		e.execute(ctx, &st.OnEnter[i])
	}
}

// ExecuteOnExit runs the state's onExit actions in source order.
func (e *Executor) ExecuteOnExit(ctx context.Context, name string, st *State) {
	for i := range st.OnExit {
		e.execute(ctx, &st.OnExit[i])
	}
}

// RunTimeline fires every timeline item due at elapsed that has not fired
// during this state visit. Items fire in at order, ties broken by source
// order; a group item runs its sub-actions in source order.
func (e *Executor) RunTimeline(ctx context.Context, name string, st *State, elapsed time.Duration) {
	for _, i := range e.timelineOrder(name, st) {
		item := &st.Timeline[i]
		if item.At.Duration() > elapsed {
			continue
		}
		key := timelineKey{state: name, index: i, at: item.At}
		if _, done := e.fired[key]; done {
			continue
		}
		e.fired[key] = struct{}{}
		if item.Action != nil {
			e.execute(ctx, item.Action)
		}
		for j := range item.Actions {
			e.execute(ctx, &item.Actions[j])
		}
	}
}

// ResetTimeline forgets fired timeline items. Called on every state change
// so that re-entering a state replays its timeline.
func (e *Executor) ResetTimeline() {
	clear(e.fired)
	e.orderFor, e.order = "", nil
}

// timelineOrder returns the timeline indexes sorted by at, stable on source
// order. The order is cached until the next ResetTimeline.
func (e *Executor) timelineOrder(name string, st *State) []int {
	if e.order != nil && e.orderFor == name {
		return e.order
	}
	order := make([]int, len(st.Timeline))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(st.Timeline[a].At, st.Timeline[b].At)
	})
	e.orderFor, e.order = name, order
	return order
}

func (e *Executor) execute(ctx context.Context, a *Action) {
	h, ok := e.handlers[a.Kind]
	if !ok {
		e.log.Error("no handler registered for action", "action", a.Kind)
		return
	}
	if err := h.HandleAction(ctx, a); err != nil {
		e.log.Error("action failed", "action", a.Kind, "topic", a.Topic, "message", a.Message, "error", err)
	}
}
