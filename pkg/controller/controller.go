// Package controller wires one room's show control plane: the MQTT session
// and message router, the scene runner with its executor handlers, the
// feedback tracker, the device registry, the media engines and the run
// history store. Dependencies are passed explicitly; the package keeps no
// globals.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuebox/cuebox/pkg/devices"
	"github.com/cuebox/cuebox/pkg/feedback"
	"github.com/cuebox/cuebox/pkg/history"
	"github.com/cuebox/cuebox/pkg/logring"
	"github.com/cuebox/cuebox/pkg/mqtt"
	"github.com/cuebox/cuebox/pkg/router"
	"github.com/cuebox/cuebox/pkg/scene"
	"github.com/cuebox/cuebox/pkg/storage"
)

// DefaultScene is the scene a plain START trigger runs when the config
// names no other.
const DefaultScene = "main"

// Trigger labels recorded with each run.
const (
	TriggerButton = "button"
	TriggerMQTT   = "mqtt"
)

const (
	defaultRetryAttempts  = 5
	defaultHealthInterval = time.Second
	stopGrace             = 3 * time.Second
	recordTimeout         = 2 * time.Second
)

// ErrNotConnected is returned by operations that need the broker session
// while it is down.
var ErrNotConnected = errors.New("controller: MQTT not connected")

// Config carries the controller settings. Zero values fall back to the
// package defaults.
type Config struct {
	// Room is the room ID ("room1"). It prefixes the client ID and the
	// room-scoped subscriptions.
	Room string

	// MQTT session.
	URL            string
	Username       string
	Password       string
	KeepAlive      int           // seconds
	ConnectTimeout time.Duration // per connect attempt
	RetryAttempts  int           // connect attempts before Run gives up
	RetrySleep     time.Duration // pause between attempts

	// DefaultScene is started by a plain START trigger.
	DefaultScene string

	Tick            time.Duration // runner tick interval
	FeedbackTimeout time.Duration
	DeviceTimeout   time.Duration
	HealthInterval  time.Duration

	// HistoryDir is the run history directory; empty keeps the store in
	// memory.
	HistoryDir string
}

// AudioEngine is the controller-facing surface of the audio player.
// *audio.Engine implements it.
type AudioEngine interface {
	Start(ctx context.Context) error
	Preload(files []string)
	Command(msg string) error
	Poll() []string
	StopAll()
	Close()
}

// VideoEngine is the controller-facing surface of the video player.
// *video.Engine implements it.
type VideoEngine interface {
	Start(ctx context.Context) error
	Command(msg string) error
	Poll() []string
	StopAll()
	Health(now time.Time)
	Close()
}

// Deps are the controller's pluggable collaborators. Scenes is required; a
// nil engine disables that media path and its actions degrade to logged
// no-ops.
type Deps struct {
	Log *slog.Logger

	// Scenes is the room's scene store, the one holding <name>.json files
	// and the commands/ subdirectory.
	Scenes storage.FileStore

	Audio AudioEngine
	Video VideoEngine
}

// Controller drives one room. Build it with New, run it with Run; the
// getters and trigger methods are safe from any goroutine.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	scenes storage.FileStore
	audio  AudioEngine
	video  VideoEngine

	tracker  *feedback.Tracker
	registry *devices.Registry
	events   *scene.Events
	runner   *scene.Runner
	runs     *history.Store
	mux      *mqtt.ServeMux

	started time.Time

	mu   sync.Mutex
	conn *mqtt.Conn
}

// New assembles a controller from cfg and deps. The run history store is
// opened here; everything network-facing waits for Run.
func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.Room == "" {
		return nil, errors.New("controller: room is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("controller: MQTT URL is required")
	}
	if deps.Scenes == nil {
		return nil, errors.New("controller: scene store is required")
	}
	if cfg.DefaultScene == "" {
		cfg.DefaultScene = DefaultScene
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	runs, err := history.Open(cfg.HistoryDir)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	c := &Controller{
		cfg:     cfg,
		log:     log,
		scenes:  deps.Scenes,
		audio:   deps.Audio,
		video:   deps.Video,
		runs:    runs,
		started: time.Now(),
	}
	c.tracker = feedback.NewTracker(cfg.FeedbackTimeout, log)
	c.registry = devices.NewRegistry(cfg.DeviceTimeout, log)
	c.events = scene.NewEvents()

	ex := scene.NewExecutor(log)
	ex.RegisterHandler(scene.ActionMQTT, scene.ActionHandlerFunc(c.mqttAction))
	ex.RegisterHandler(scene.ActionAudio, scene.ActionHandlerFunc(c.audioAction))
	ex.RegisterHandler(scene.ActionVideo, scene.ActionHandlerFunc(c.videoAction))

	c.runner = &scene.Runner{
		Executor:  ex,
		Events:    c.events,
		Tracker:   c.tracker,
		Broadcast: c,
		History:   &runSink{room: cfg.Room, runs: runs, log: log},
		Tick:      cfg.Tick,
		Log:       log,
	}
	if deps.Audio != nil {
		c.runner.Audio = deps.Audio
	}
	if deps.Video != nil {
		c.runner.Video = deps.Video
	}

	rt := &router.Router{
		Room:     cfg.Room,
		Registry: c.registry,
		Tracker:  c.tracker,
		Events:   c.events,
		// Router callbacks run on the paho goroutine and must not block.
		StartDefault: func() {
			go c.startFromTrigger(c.cfg.DefaultScene, TriggerButton)
		},
		StartNamed: func(name string) {
			go c.startFromTrigger(strings.TrimSuffix(name, ".json"), TriggerMQTT)
		},
		Log: log,
	}
	c.mux = mqtt.NewServeMux()
	if err := c.mux.Handle("#", rt); err != nil {
		runs.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}
	return c, nil
}

// Run connects the broker session, subscribes the room's topics, starts
// the media engines and blocks in the health loop until ctx is canceled.
// It returns after the shutdown sequence finished.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	conn, err := c.connect(ctx)
	if err != nil {
		c.log.Log(ctx, logring.LevelCritical, "MQTT broker unreachable, giving up",
			"url", c.cfg.URL, "attempts", c.retryAttempts(), "error", err)
		return fmt.Errorf("controller: connect %s: %w", c.cfg.URL, err)
	}
	c.setSession(conn)
	c.log.Info("MQTT connected", "url", c.cfg.URL, "client_id", c.clientID())

	if err := conn.SubscribeAll(ctx, c.subscriptions(), mqtt.AutoResubscribe{}); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	if c.audio != nil {
		if err := c.audio.Start(ctx); err != nil {
			c.log.Error("audio start failed", "error", err)
		}
	}
	if c.video != nil {
		if err := c.video.Start(ctx); err != nil {
			c.log.Error("video start failed", "error", err)
		}
	}

	c.log.Info("controller ready", "room", c.cfg.Room)
	c.healthLoop(ctx)
	return nil
}

// connect dials the broker with bounded retries: autopaho keeps attempting
// until its context dies, so exhausting the attempt budget cancels the
// wait. Reconnects after the session was up once are not budgeted.
func (c *Controller) connect(ctx context.Context) (*mqtt.Conn, error) {
	attempts := c.retryAttempts()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tries atomic.Int32
	var sessionUp atomic.Bool
	d := &mqtt.Dialer{
		ID:                c.clientID(),
		KeepAlive:         c.cfg.KeepAlive,
		ConnectTimeout:    c.cfg.ConnectTimeout,
		ConnectRetryDelay: c.cfg.RetrySleep,
		ServeMux:          c.mux,
		OnConnectError: func(err error) {
			if sessionUp.Load() {
				c.log.Warn("MQTT reconnect failed", "error", err)
				return
			}
			n := tries.Add(1)
			c.log.Warn("MQTT connect failed", "attempt", n, "attempts", attempts, "error", err)
			if int(n) >= attempts {
				cancel()
			}
		},
	}
	var opts []mqtt.DialOption
	if c.cfg.Username != "" {
		opts = append(opts, mqtt.WithUser(c.cfg.Username, c.cfg.Password))
	}
	conn, err := d.Dial(dialCtx, c.cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	sessionUp.Store(true)
	return conn, nil
}

// healthLoop is the once-a-second maintenance pass: session transition
// logging, device expiry and the video player health check.
func (c *Controller) healthLoop(ctx context.Context) {
	interval := c.cfg.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasConnected := true
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			connected := c.MQTTConnected()
			if connected != wasConnected {
				if connected {
					c.log.Info("MQTT connection restored")
				} else {
					c.log.Warn("MQTT connection lost")
				}
				wasConnected = connected
			}
			c.registry.Cleanup()
			if c.video != nil {
				c.video.Health(now)
			}
		}
	}
}

// shutdown unwinds in dependency order: the scene first, while its stop
// broadcast still has a session, then media, session, history.
func (c *Controller) shutdown() {
	c.log.Info("controller shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	done := c.runner.Done()
	if c.runner.Stop(ctx, "shutdown") {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	c.tracker.Disable()
	if c.audio != nil {
		c.audio.Close()
	}
	if c.video != nil {
		c.video.Close()
	}
	if conn := c.session(); conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Error("MQTT close failed", "error", err)
		}
		c.setSession(nil)
	}
	if err := c.runs.Close(); err != nil {
		c.log.Error("history close failed", "error", err)
	}
}

func (c *Controller) subscriptions() []string {
	return []string{
		"devices/+/status",
		c.cfg.Room + "/status",
		c.cfg.Room + "/scene",
		c.cfg.Room + "/#",
	}
}

func (c *Controller) clientID() string {
	return c.cfg.Room + "_controller"
}

func (c *Controller) retryAttempts() int {
	if c.cfg.RetryAttempts <= 0 {
		return defaultRetryAttempts
	}
	return c.cfg.RetryAttempts
}

func (c *Controller) session() *mqtt.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Controller) setSession(conn *mqtt.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Room returns the room this controller drives.
func (c *Controller) Room() string { return c.cfg.Room }

// SceneRunning reports whether a scene run is active.
func (c *Controller) SceneRunning() bool { return c.runner.Running() }

// MQTTConnected reports whether the broker session is up.
func (c *Controller) MQTTConnected() bool {
	conn := c.session()
	return conn != nil && conn.Connected()
}

// Uptime is the time since the controller was built.
func (c *Controller) Uptime() time.Duration { return time.Since(c.started) }

// Devices returns a snapshot of the device table.
func (c *Controller) Devices() []devices.Device { return c.registry.Snapshot() }

// Progress returns the latest scene progress snapshot.
func (c *Controller) Progress() scene.Progress { return c.runner.Progress() }

// Runs exposes the run history store.
func (c *Controller) Runs() *history.Store { return c.runs }
