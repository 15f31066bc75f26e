// Package topic implements the MQTT topic contract shared by the room
// controllers and their devices.
//
// Topics are classified into buckets (motor, light, effects, ...) and every
// outbound publish is validated against the payload grammar of its bucket.
// The contract is strict on purpose: a typoed namespace such as
// "room1/lightasdf/fire" is rejected instead of being silently routed.
package topic

import (
	"fmt"
	"regexp"
	"strings"
)

// Bucket is the contract class of an MQTT topic.
type Bucket int

const (
	Unknown Bucket = iota
	DeviceStatus
	Feedback
	SceneStart
	NamedScene
	Motor
	Light
	Effects
	Emergency
	GlobalStop
	RoomGeneric
)

// String returns the bucket name.
func (b Bucket) String() string {
	switch b {
	case DeviceStatus:
		return "device_status"
	case Feedback:
		return "feedback"
	case SceneStart:
		return "scene_start"
	case NamedScene:
		return "named_scene"
	case Motor:
		return "motor"
	case Light:
		return "light"
	case Effects:
		return "effects"
	case Emergency:
		return "emergency"
	case GlobalStop:
		return "global_stop"
	case RoomGeneric:
		return "room_generic"
	default:
		return "unknown"
	}
}

// Class is the result of classifying a topic.
type Class struct {
	Bucket Bucket

	// Room is the room segment ("room1") for room-scoped topics.
	Room string

	// Device is the device ID for devices/<id>/status topics.
	Device string
}

var (
	deviceStatusRe = regexp.MustCompile(`^devices/([A-Za-z0-9_\-.]+)/status$`)
	roomTopicRe    = regexp.MustCompile(`^(room[0-9]+)/(.+)$`)
	roomNameRe     = regexp.MustCompile(`^room[0-9]+$`)
	motorSegRe     = regexp.MustCompile(`^motor[0-9]*$`)

	speedRe    = regexp.MustCompile(`^SPEED:[0-9]{1,3}$`)
	motorOnRe  = regexp.MustCompile(`^ON:[0-9]{1,3}:[LR](:[0-9]+(\.[0-9]+)?)?$`)
	sceneFile  = regexp.MustCompile(`\.json$`)
	switchLike = map[string]bool{"ON": true, "OFF": true, "STOP": true, "RESET": true, "BLINK": true}
)

// reservedNamespaces are the room sub-namespaces owned by the contract. A
// namespace that merely begins with one of these is a typo and is rejected.
var reservedNamespaces = []string{"effects", "effect", "start_scene", "scene", "light", "motor", "emergency"}

// ValidRoom reports whether name is a bare room name the contract routes,
// such as "room1".
func ValidRoom(name string) bool {
	return roomNameRe.MatchString(name)
}

// Classify maps a topic to its contract bucket. The room segment is matched
// case-sensitively; anything outside the contract comes back as Unknown.
func Classify(topic string) Class {
	if m := deviceStatusRe.FindStringSubmatch(topic); m != nil {
		return Class{Bucket: DeviceStatus, Device: m[1]}
	}

	m := roomTopicRe.FindStringSubmatch(topic)
	if m == nil {
		return Class{Bucket: Unknown}
	}
	room, rest := m[1], m[2]

	if rest == "feedback" || strings.HasSuffix(rest, "/feedback") {
		return Class{Bucket: Feedback, Room: room}
	}

	ns := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		ns = rest[:i]
	}

	switch {
	case ns == "light":
		return Class{Bucket: Light, Room: room}
	case motorSegRe.MatchString(ns):
		return Class{Bucket: Motor, Room: room}
	case ns == "effect" || ns == "effects":
		return Class{Bucket: Effects, Room: room}
	case ns == "emergency":
		return Class{Bucket: Emergency, Room: room}
	case ns == "scene":
		return Class{Bucket: SceneStart, Room: room}
	case ns == "start_scene":
		return Class{Bucket: NamedScene, Room: room}
	case ns == "STOP":
		return Class{Bucket: GlobalStop, Room: room}
	}

	// Typo guard: a namespace that extends a reserved word without being a
	// valid form of it ("lightasdf", "sceneX", "motorx") is malformed.
	for _, rsv := range reservedNamespaces {
		if strings.HasPrefix(ns, rsv) && ns != rsv {
			if rsv == "motor" && motorSegRe.MatchString(ns) {
				continue
			}
			return Class{Bucket: Unknown, Room: room}
		}
	}

	return Class{Bucket: RoomGeneric, Room: room}
}

// ValidatePublish checks an outbound (topic, payload) pair against the
// contract. It is called on every publish and on every mqtt action when a
// scene is loaded.
func ValidatePublish(topic, payload string) error {
	c := Classify(topic)
	switch c.Bucket {
	case Unknown:
		return fmt.Errorf("topic: %q is not a valid contract topic", topic)
	case Motor:
		if switchLike[payload] && payload != "RESET" && payload != "BLINK" {
			return nil
		}
		if speedRe.MatchString(payload) || motorOnRe.MatchString(payload) {
			return nil
		}
		return fmt.Errorf("topic: invalid motor payload %q for %q", payload, topic)
	case Light, Effects, Emergency, GlobalStop:
		if !switchLike[payload] {
			return fmt.Errorf("topic: invalid %s payload %q for %q", c.Bucket, payload, topic)
		}
		return nil
	case SceneStart:
		if payload != "START" {
			return fmt.Errorf("topic: scene trigger payload must be START, got %q", payload)
		}
		return nil
	case NamedScene:
		if !sceneFile.MatchString(payload) {
			return fmt.Errorf("topic: named scene payload must end in .json, got %q", payload)
		}
		return nil
	default:
		// device_status, feedback and room_generic accept free-form payloads.
		return nil
	}
}

// noFeedbackSegments are final topic segments that never produce a feedback
// reply: local media markers, status channels and broadcast stops.
var noFeedbackSegments = map[string]bool{
	"audio":    true,
	"video":    true,
	"status":   true,
	"feedback": true,
	"STOP":     true,
	"RESET":    true,
	"GLOBAL":   true,
}

// stopLikePayloads are command payloads actuators execute without replying.
var stopLikePayloads = map[string]bool{
	"STOP":   true,
	"RESET":  true,
	"GLOBAL": true,
}

// FeedbackTopic derives the status topic a command expects its reply on:
// room<X>/<...> maps to room<X>/<...>/feedback and devices/<id>/<...> maps
// to devices/<id>/<...>/feedback. The second return is false for commands
// that do not participate in feedback tracking, by topic (media markers,
// status channels) or by payload (stop-like commands go unacknowledged).
func FeedbackTopic(topic, payload string) (string, bool) {
	if stopLikePayloads[payload] {
		return "", false
	}
	last := topic
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		last = topic[i+1:]
	}
	if noFeedbackSegments[last] {
		return "", false
	}

	if roomTopicRe.MatchString(topic) {
		return topic + "/feedback", true
	}
	if strings.HasPrefix(topic, "devices/") && strings.Count(topic, "/") >= 2 {
		return topic + "/feedback", true
	}
	return "", false
}
