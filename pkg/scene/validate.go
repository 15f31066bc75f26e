package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/cuebox/cuebox/pkg/jsontime"
	"github.com/cuebox/cuebox/pkg/topic"
)

// sceneSchema is the structural validator for raw scene JSON. It is derived
// from the document types once; derivation failures are programmer errors.
var sceneSchema = buildSchema()

func buildSchema() *jsonschema.Resolved {
	opts := &jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[Scalar]():           {Types: []string{"string", "number", "boolean"}},
			reflect.TypeFor[jsontime.Seconds](): {Type: "number"},
			reflect.TypeFor[ActionKind]():       {Type: "string", Enum: []any{"mqtt", "audio", "video"}},
			reflect.TypeFor[TransitionType]():   {Type: "string", Enum: []any{"timeout", "audioEnd", "videoEnd", "mqttMessage", "always"}},
		},
	}
	action, err := jsonschema.For[Action](opts)
	if err != nil {
		panic(err)
	}

	// Timeline items cannot be derived from the Go type: the embedded form
	// carries the action fields flat next to "at".
	item := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"at"},
		Properties: map[string]*jsonschema.Schema{
			"at":      {Type: "number"},
			"actions": {Type: "array", Items: action.CloneSchemas()},
		},
	}
	for name, prop := range action.Properties {
		item.Properties[name] = prop.CloneSchemas()
	}
	opts.TypeSchemas[reflect.TypeFor[TimelineItem]()] = item

	root, err := jsonschema.For[Scene](opts)
	if err != nil {
		panic(err)
	}
	resolved, err := root.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}

// Parse decodes and validates one scene document.
func Parse(data []byte) (*Scene, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if err := sceneSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks scene semantics: referential integrity of every goto,
// per-variant required fields and topic contract conformance of mqtt
// actions. All problems are reported together, so a rejected scene shows
// the author every fix at once.
func Validate(s *Scene) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("scene: "+format, args...))
	}

	if s.SceneID == "" {
		fail("missing sceneId")
	}
	if len(s.States) == 0 {
		fail("no states defined")
	}
	if _, ok := s.States[EndState]; ok {
		fail("%s is a reserved state name", EndState)
	}
	switch {
	case s.InitialState == "":
		fail("missing initialState")
	case s.States[s.InitialState] == nil:
		fail("initialState %q is not a defined state", s.InitialState)
	}

	for i := range s.GlobalEvents {
		validateTransition(s, fmt.Sprintf("globalEvents[%d]", i), &s.GlobalEvents[i], &errs)
	}

	for _, name := range slices.Sorted(maps.Keys(s.States)) {
		st := s.States[name]
		if name == "" {
			fail("empty state name")
			continue
		}
		if st == nil {
			fail("state %q is null", name)
			continue
		}
		where := "states." + name
		for i := range st.OnEnter {
			validateAction(fmt.Sprintf("%s.onEnter[%d]", where, i), &st.OnEnter[i], &errs)
		}
		for i := range st.Timeline {
			it := &st.Timeline[i]
			w := fmt.Sprintf("%s.timeline[%d]", where, i)
			if it.At < 0 {
				fail("%s: at must not be negative", w)
			}
			switch {
			case it.Action == nil && len(it.Actions) == 0:
				fail("%s: needs an action or an actions group", w)
			case it.Action != nil && len(it.Actions) > 0:
				fail("%s: has both action and actions", w)
			}
			if it.Action != nil {
				validateAction(w, it.Action, &errs)
			}
			for j := range it.Actions {
				validateAction(fmt.Sprintf("%s.actions[%d]", w, j), &it.Actions[j], &errs)
			}
		}
		for i := range st.Transitions {
			validateTransition(s, fmt.Sprintf("%s.transitions[%d]", where, i), &st.Transitions[i], &errs)
		}
		for i := range st.OnExit {
			validateAction(fmt.Sprintf("%s.onExit[%d]", where, i), &st.OnExit[i], &errs)
		}
	}
	return errors.Join(errs...)
}

func validateAction(where string, a *Action, errs *[]error) {
	fail := func(format string, args ...any) {
		*errs = append(*errs, fmt.Errorf("scene: "+where+": "+format, args...))
	}
	switch a.Kind {
	case ActionMQTT:
		if a.Topic == "" {
			fail("mqtt action missing topic")
			return
		}
		if err := topic.ValidatePublish(a.Topic, string(a.Message)); err != nil {
			fail("%v", err)
		}
	case ActionAudio:
		if a.Message == "" {
			fail("audio action missing message")
		}
	case ActionVideo:
		if a.Message == "" {
			fail("video action missing message")
		}
	case "":
		fail("missing action type")
	default:
		fail("unknown action type %q", a.Kind)
	}
}

func validateTransition(s *Scene, where string, t *Transition, errs *[]error) {
	fail := func(format string, args ...any) {
		*errs = append(*errs, fmt.Errorf("scene: "+where+": "+format, args...))
	}
	switch {
	case t.Goto == "":
		fail("missing goto")
	case t.Goto != EndState && s.States[t.Goto] == nil:
		fail("goto %q is not a defined state", t.Goto)
	}
	switch t.Type {
	case TransitionTimeout:
		if t.Delay < 0 {
			fail("delay must not be negative")
		}
	case TransitionAudioEnd, TransitionVideoEnd:
		if t.Target == "" {
			fail("missing target")
		}
	case TransitionMQTTMessage:
		if t.Topic == "" {
			fail("missing topic")
		}
	case TransitionAlways:
	case "":
		fail("missing transition type")
	default:
		fail("unknown transition type %q", t.Type)
	}
}
