// Package scene implements the declarative show format and its runtime: a
// JSON document of named states is loaded, validated and then driven by a
// tick loop that fires timeline actions and evaluates transitions until the
// scene reaches the terminal END state.
package scene

import (
	"encoding/json"
	"fmt"

	"github.com/cuebox/cuebox/pkg/jsontime"
)

// EndState is the reserved terminal state name. A goto of EndState finishes
// the scene; it never appears as a key of Scene.States.
const EndState = "END"

// ActionKind tags the variant of an Action.
type ActionKind string

const (
	ActionMQTT  ActionKind = "mqtt"
	ActionAudio ActionKind = "audio"
	ActionVideo ActionKind = "video"
)

var validActionKinds = map[ActionKind]bool{
	ActionMQTT:  true,
	ActionAudio: true,
	ActionVideo: true,
}

func (k ActionKind) IsValid() bool { return validActionKinds[k] }

func (k *ActionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ak := ActionKind(s)
	if !ak.IsValid() {
		return fmt.Errorf("scene: unknown action type %q", s)
	}
	*k = ak
	return nil
}

// TransitionType tags the variant of a Transition.
type TransitionType string

const (
	TransitionTimeout     TransitionType = "timeout"
	TransitionAudioEnd    TransitionType = "audioEnd"
	TransitionVideoEnd    TransitionType = "videoEnd"
	TransitionMQTTMessage TransitionType = "mqttMessage"
	TransitionAlways      TransitionType = "always"
)

var validTransitionTypes = map[TransitionType]bool{
	TransitionTimeout:     true,
	TransitionAudioEnd:    true,
	TransitionVideoEnd:    true,
	TransitionMQTTMessage: true,
	TransitionAlways:      true,
}

func (t TransitionType) IsValid() bool { return validTransitionTypes[t] }

func (t *TransitionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tt := TransitionType(s)
	if !tt.IsValid() {
		return fmt.Errorf("scene: unknown transition type %q", s)
	}
	*t = tt
	return nil
}

// Scene is one declarative show program. The zero value is not runnable;
// scenes come from Load or Parse, which validate them.
type Scene struct {
	SceneID      string            `json:"sceneId"`
	Version      Scalar            `json:"version,omitempty"`
	Description  string            `json:"description,omitempty"`
	InitialState string            `json:"initialState"`
	GlobalEvents []Transition      `json:"globalEvents,omitempty"`
	States       map[string]*State `json:"states"`
}

// State holds the edge actions, the timeline and the transition list of one
// named scene state.
type State struct {
	Description string         `json:"description,omitempty"`
	OnEnter     []Action       `json:"onEnter,omitempty"`
	Timeline    []TimelineItem `json:"timeline,omitempty"`
	Transitions []Transition   `json:"transitions,omitempty"`
	OnExit      []Action       `json:"onExit,omitempty"`
}

// Action is a tagged variant: mqtt publishes Message to Topic, audio and
// video hand Message to the corresponding media engine as a command string.
type Action struct {
	Kind    ActionKind `json:"action"`
	Topic   string     `json:"topic,omitempty"`
	Message Scalar     `json:"message"`
	Retain  bool       `json:"retain,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActionMQTT:
		return json.Marshal(struct {
			Kind    ActionKind `json:"action"`
			Topic   string     `json:"topic"`
			Message Scalar     `json:"message"`
			Retain  bool       `json:"retain,omitempty"`
		}{a.Kind, a.Topic, a.Message, a.Retain})
	case ActionAudio, ActionVideo:
		return json.Marshal(struct {
			Kind    ActionKind `json:"action"`
			Message Scalar     `json:"message"`
		}{a.Kind, a.Message})
	default:
		return nil, fmt.Errorf("scene: unknown action type %q", a.Kind)
	}
}

// Transition is a tagged variant on Type. Every transition carries Goto,
// the state entered when it fires.
type Transition struct {
	Type    TransitionType   `json:"type"`
	Delay   jsontime.Seconds `json:"delay,omitempty"`
	Target  string           `json:"target,omitempty"`
	Topic   string           `json:"topic,omitempty"`
	Message Scalar           `json:"message,omitempty"`
	Goto    string           `json:"goto"`
}

func (t Transition) MarshalJSON() ([]byte, error) {
	switch t.Type {
	case TransitionTimeout:
		return json.Marshal(struct {
			Type  TransitionType   `json:"type"`
			Delay jsontime.Seconds `json:"delay"`
			Goto  string           `json:"goto"`
		}{t.Type, t.Delay, t.Goto})
	case TransitionAudioEnd, TransitionVideoEnd:
		return json.Marshal(struct {
			Type   TransitionType `json:"type"`
			Target string         `json:"target"`
			Goto   string         `json:"goto"`
		}{t.Type, t.Target, t.Goto})
	case TransitionMQTTMessage:
		return json.Marshal(struct {
			Type    TransitionType `json:"type"`
			Topic   string         `json:"topic"`
			Message Scalar         `json:"message"`
			Goto    string         `json:"goto"`
		}{t.Type, t.Topic, t.Message, t.Goto})
	case TransitionAlways:
		return json.Marshal(struct {
			Type TransitionType `json:"type"`
			Goto string         `json:"goto"`
		}{t.Type, t.Goto})
	default:
		return nil, fmt.Errorf("scene: unknown transition type %q", t.Type)
	}
}

// TimelineItem schedules either one embedded Action or an ordered Actions
// group at At seconds after state entry. Exactly one of the two is set. The
// embedded wire form keeps the action fields flat next to "at":
//
//	{"at": 3.0, "action": "mqtt", "topic": "room1/motor", "message": "ON:80:L"}
//	{"at": 3.0, "actions": [...]}
type TimelineItem struct {
	At      jsontime.Seconds
	Action  *Action
	Actions []Action
}

func (it *TimelineItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var at struct {
		At jsontime.Seconds `json:"at"`
	}
	if err := json.Unmarshal(data, &at); err != nil {
		return err
	}
	it.At = at.At
	if group, ok := raw["actions"]; ok {
		if _, ok := raw["action"]; ok {
			return fmt.Errorf("scene: timeline item has both action and actions")
		}
		it.Action = nil
		return json.Unmarshal(group, &it.Actions)
	}
	if _, ok := raw["action"]; !ok {
		// Neither form present; Validate reports it with its position.
		it.Action, it.Actions = nil, nil
		return nil
	}
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	it.Action, it.Actions = &a, nil
	return nil
}

func (it TimelineItem) MarshalJSON() ([]byte, error) {
	at, err := json.Marshal(it.At)
	if err != nil {
		return nil, err
	}
	if it.Actions != nil {
		group, err := json.Marshal(it.Actions)
		if err != nil {
			return nil, err
		}
		return []byte(`{"at":` + string(at) + `,"actions":` + string(group) + `}`), nil
	}
	if it.Action == nil {
		return nil, fmt.Errorf("scene: timeline item has no action")
	}
	single, err := json.Marshal(it.Action)
	if err != nil {
		return nil, err
	}
	// Splice the action fields in after "at" to keep the embedded form flat.
	return append([]byte(`{"at":`+string(at)+`,`), single[1:]...), nil
}

// Canonical renders the scene as deterministic two-space-indented JSON with
// a trailing newline. Object keys of States sort lexically, so canonicalize
// and reload round-trips byte for byte.
func Canonical(s *Scene) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
