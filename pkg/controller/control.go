package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuebox/cuebox/pkg/history"
	"github.com/cuebox/cuebox/pkg/mqtt"
	"github.com/cuebox/cuebox/pkg/scene"
	"github.com/cuebox/cuebox/pkg/topic"
)

// StartScene loads <name>.json from the scene store and hands it to the
// runner. It refuses while the broker session is down and while another
// scene runs; refusals are logged at WARN.
func (c *Controller) StartScene(name, trigger string) error {
	if !c.MQTTConnected() {
		c.log.Warn("MQTT not connected, scene not started", "scene", name, "trigger", trigger)
		return ErrNotConnected
	}
	s, err := c.loadScene(name)
	if err != nil {
		c.log.Error("scene load failed", "scene", name, "error", err)
		return err
	}
	return c.runner.Start(context.Background(), s, trigger)
}

func (c *Controller) loadScene(name string) (*scene.Scene, error) {
	data, err := c.scenes.ReadFile(context.Background(), name+".json")
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return scene.Parse(data)
}

// StopScene halts the active run and waits briefly for the loop to wind
// down. Without an active run it does nothing.
func (c *Controller) StopScene(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	done := c.runner.Done()
	if c.runner.Stop(ctx, reason) {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

// RunCommand executes commands/<name>.json from the scene store, a bare
// action list run outside any scene. A failing action does not stop the
// rest; all failures come back joined.
func (c *Controller) RunCommand(ctx context.Context, name string) error {
	acts, err := c.loadCommand(ctx, name)
	if err != nil {
		c.log.Error("command load failed", "command", name, "error", err)
		return err
	}
	c.log.Info("running command", "command", name, "actions", len(acts))

	var errs []error
	for i := range acts {
		a := &acts[i]
		var err error
		switch a.Kind {
		case scene.ActionMQTT:
			err = c.Publish(ctx, a.Topic, a.Message.String(), a.Retain)
		case scene.ActionAudio:
			err = c.audioAction(ctx, a)
		case scene.ActionVideo:
			err = c.videoAction(ctx, a)
		}
		if err != nil {
			c.log.Error("command action failed", "command", name, "action", string(a.Kind), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) loadCommand(ctx context.Context, name string) ([]scene.Action, error) {
	data, err := c.scenes.ReadFile(ctx, "commands/"+name+".json")
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return scene.ParseCommand(data)
}

// Publish is the manual control path: contract-validate, arm feedback
// tracking, write. It fails while the session is down.
func (c *Controller) Publish(ctx context.Context, tp, payload string, retain bool) error {
	if err := topic.ValidatePublish(tp, payload); err != nil {
		return err
	}
	conn := c.session()
	if conn == nil || !conn.Connected() {
		c.log.Warn("MQTT not connected, publish dropped", "topic", tp)
		return ErrNotConnected
	}
	c.tracker.Track(tp, payload)
	var opts []mqtt.WriteOption
	if retain {
		opts = append(opts, mqtt.WithRetain())
	}
	if err := conn.WriteToTopic(ctx, []byte(payload), tp, opts...); err != nil {
		return fmt.Errorf("controller: publish %s: %w", tp, err)
	}
	c.log.Debug("published", "topic", tp, "payload", payload)
	return nil
}

// BroadcastStop publishes the room-wide STOP that halts every actuator,
// addressed by the scene or not. With the session down it degrades to a
// logged no-op so the stop path never blocks.
func (c *Controller) BroadcastStop(ctx context.Context) error {
	if !c.MQTTConnected() {
		c.log.Warn("MQTT not connected, stop broadcast skipped")
		return nil
	}
	return c.Publish(ctx, c.cfg.Room+"/STOP", "STOP", false)
}

// startFromTrigger adapts StartScene to the router callbacks, which have
// nobody to return an error to. Refusals are already logged.
func (c *Controller) startFromTrigger(name, trigger string) {
	_ = c.StartScene(name, trigger)
}

// mqttAction publishes a scene action. With the session down the action
// degrades to a logged no-op and the scene keeps its timing.
func (c *Controller) mqttAction(ctx context.Context, a *scene.Action) error {
	if !c.MQTTConnected() {
		c.log.Warn("MQTT not connected, action skipped", "topic", a.Topic, "message", a.Message.String())
		return nil
	}
	return c.Publish(ctx, a.Topic, a.Message.String(), a.Retain)
}

func (c *Controller) audioAction(_ context.Context, a *scene.Action) error {
	if c.audio == nil {
		c.log.Warn("audio disabled, command dropped", "command", a.Message.String())
		return nil
	}
	return c.audio.Command(a.Message.String())
}

func (c *Controller) videoAction(_ context.Context, a *scene.Action) error {
	if c.video == nil {
		c.log.Warn("video disabled, command dropped", "command", a.Message.String())
		return nil
	}
	return c.video.Command(a.Message.String())
}

// runSink forwards finished runs to the history store.
type runSink struct {
	room string
	runs *history.Store
	log  *slog.Logger
}

func (s *runSink) Record(rec scene.RunRecord) {
	states := make([]history.StateVisit, len(rec.States))
	for i, v := range rec.States {
		states[i] = history.StateVisit{Name: v.Name, EnteredAt: v.EnteredAt}
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := s.runs.Append(ctx, history.Record{
		Room:      s.room,
		Scene:     rec.SceneID,
		Trigger:   rec.Trigger,
		Outcome:   rec.Outcome,
		Reason:    rec.Reason,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
		States:    states,
	})
	if err != nil {
		s.log.Error("run not recorded", "scene", rec.SceneID, "error", err)
	}
}
