package scene

import (
	"sync"
	"time"
)

// Events owns the three runtime event queues: incoming mqtt messages, audio
// end and video end notifications. Producers append from their own
// goroutines; the runner is the single consumer. A matching transition pops
// its event, so every event is consumed at most once.
type Events struct {
	mu    sync.Mutex
	mqtt  []mqttEvent
	audio []string
	video []string
}

type mqttEvent struct {
	topic   string
	payload string
}

func NewEvents() *Events { return &Events{} }

// PushMQTT records an incoming message for mqttMessage transitions.
func (e *Events) PushMQTT(topic, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mqtt = append(e.mqtt, mqttEvent{topic: topic, payload: payload})
}

// PushAudioEnd records a finished audio file for audioEnd transitions.
func (e *Events) PushAudioEnd(file string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = append(e.audio, file)
}

// PushVideoEnd records a finished video file for videoEnd transitions.
func (e *Events) PushVideoEnd(file string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video = append(e.video, file)
}

// Clear drops all queued events. Called on every state change so events
// from one state never leak into the next.
func (e *Events) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mqtt, e.audio, e.video = nil, nil, nil
}

// Check evaluates transitions in source order against the queues and clock
// and returns the goto of the first one whose condition holds. Matching
// pops the consumed event.
func (e *Events) Check(transitions []Transition, elapsed time.Duration, firstEval bool) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range transitions {
		if e.matchLocked(&transitions[i], elapsed, firstEval) {
			return transitions[i].Goto, true
		}
	}
	return "", false
}

// CheckGlobal evaluates scene-level events with the same rules; the runner
// calls it after the per-state transitions each tick. skip disarms the
// event that caused the current state entry so it cannot re-fire within
// that visit; pass -1 to evaluate all. The second return is the index of
// the matched event.
func (e *Events) CheckGlobal(events []Transition, elapsed time.Duration, firstEval bool, skip int) (string, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range events {
		if i == skip {
			continue
		}
		if e.matchLocked(&events[i], elapsed, firstEval) {
			return events[i].Goto, i, true
		}
	}
	return "", -1, false
}

func (e *Events) matchLocked(t *Transition, elapsed time.Duration, firstEval bool) bool {
	switch t.Type {
	case TransitionTimeout:
		return elapsed >= t.Delay.Duration()
	case TransitionAudioEnd:
		return popFile(&e.audio, t.Target)
	case TransitionVideoEnd:
		return popFile(&e.video, t.Target)
	case TransitionMQTTMessage:
		return e.popMQTTLocked(t.Topic, string(t.Message))
	case TransitionAlways:
		return firstEval
	}
	return false
}

func popFile(queue *[]string, target string) bool {
	for i, f := range *queue {
		if f == target {
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Events) popMQTTLocked(topic, message string) bool {
	for i, ev := range e.mqtt {
		if ev.topic == topic && ev.payload == message {
			e.mqtt = append(e.mqtt[:i], e.mqtt[i+1:]...)
			return true
		}
	}
	return false
}
