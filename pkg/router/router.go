// Package router demultiplexes inbound MQTT traffic to the controller's
// subsystems. It is the single entry point per received message and the only
// path from the transport into the feedback tracker and the scene event
// queues.
package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/devices"
	"github.com/cuebox/cuebox/pkg/feedback"
	"github.com/cuebox/cuebox/pkg/mqtt"
	"github.com/cuebox/cuebox/pkg/scene"
	"github.com/cuebox/cuebox/pkg/topic"
)

// dedupWindow is how long two identical deliveries are considered one
// publish. The controller subscribes to both <room>/# and more specific
// room filters, so a broker that honors each matching subscription
// separately delivers the same packet more than once, back to back.
const dedupWindow = 50 * time.Millisecond

// Router routes one received message to exactly one destination:
//
//  1. devices/<id>/status goes to the device registry.
//  2. a topic ending in /feedback goes to the feedback tracker.
//  3. <room>/scene with payload START triggers the default scene.
//  4. <room>/start_scene with a .json payload triggers that named scene.
//  5. everything else is queued as an mqttMessage event for the running
//     scene.
type Router struct {
	Room     string
	Registry *devices.Registry
	Tracker  *feedback.Tracker
	Events   *scene.Events

	// StartDefault and StartNamed are invoked on the paho receive
	// goroutine; implementations must not block.
	StartDefault func()
	StartNamed   func(name string)

	Log *slog.Logger

	mu          sync.Mutex
	now         func() time.Time
	lastTopic   string
	lastPayload string
	lastAt      time.Time
}

var _ mqtt.Handler = (*Router)(nil)

// HandleMessage implements mqtt.Handler.
func (r *Router) HandleMessage(m mqtt.Message) error {
	pkt := m.Packet
	r.Route(pkt.Topic, string(pkt.Payload), pkt.Retain)
	return nil
}

// Route dispatches one message. Retained deliveries feed the device
// registry but never trigger scenes; a retained START on the trigger topic
// would otherwise replay the show on every controller restart.
func (r *Router) Route(tp, payload string, retained bool) {
	if r.duplicate(tp, payload) {
		r.log().Debug("duplicate delivery dropped", "topic", tp)
		return
	}

	if c := topic.Classify(tp); c.Bucket == topic.DeviceStatus {
		if r.Registry != nil {
			r.Registry.UpdateStatus(c.Device, payload, retained)
		}
		return
	}

	if strings.HasSuffix(tp, "/feedback") {
		if r.Tracker != nil {
			r.Tracker.Resolve(tp, payload)
		}
		return
	}

	if tp == r.Room+"/scene" && strings.ToUpper(payload) == "START" {
		if retained {
			r.log().Debug("retained scene trigger ignored", "topic", tp)
			return
		}
		if r.StartDefault != nil {
			r.StartDefault()
		}
		return
	}

	if tp == r.Room+"/start_scene" && strings.HasSuffix(payload, ".json") {
		if retained {
			r.log().Debug("retained scene trigger ignored", "topic", tp)
			return
		}
		if r.StartNamed != nil {
			r.StartNamed(payload)
		}
		return
	}

	if r.Events != nil {
		r.Events.PushMQTT(tp, payload)
	}
}

// duplicate reports whether this delivery repeats the previous one within
// the dedup window. Repeats slower than the window are real publishes and
// pass through.
func (r *Router) duplicate(tp, payload string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	nowFn := r.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()
	dup := tp == r.lastTopic && payload == r.lastPayload && now.Sub(r.lastAt) <= dedupWindow
	r.lastTopic, r.lastPayload, r.lastAt = tp, payload, now
	return dup
}

func (r *Router) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
