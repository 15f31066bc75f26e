// Package config loads the cuebox controller configuration from YAML.
//
// A config file describes one room: the broker session, where scenes live,
// runner and feedback timing, the media engines and the dashboard listener.
// Load merges the file over Default, so a minimal file only needs the
// values that differ from the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/cuebox/cuebox/pkg/topic"
)

// Config is the root of the cuebox YAML configuration.
type Config struct {
	Room      string    `yaml:"room"`
	MQTT      MQTT      `yaml:"mqtt"`
	Paths     Paths     `yaml:"paths"`
	Runner    Runner    `yaml:"runner"`
	Feedback  Feedback  `yaml:"feedback"`
	Devices   Devices   `yaml:"devices"`
	Audio     Audio     `yaml:"audio"`
	Video     Video     `yaml:"video"`
	Dashboard Dashboard `yaml:"dashboard"`
	History   History   `yaml:"history"`
	Log       Log       `yaml:"log"`
}

// MQTT configures the broker session.
type MQTT struct {
	URL             string `yaml:"url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	KeepAliveS      int    `yaml:"keepalive_s"`
	ConnectTimeoutS int    `yaml:"connect_timeout_s"`
	RetryAttempts   int    `yaml:"retry_attempts"`
	RetrySleepS     int    `yaml:"retry_sleep_s"`
}

// ConnectTimeout returns connect_timeout_s as a duration.
func (m MQTT) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutS) * time.Second
}

// RetrySleep returns retry_sleep_s as a duration.
func (m MQTT) RetrySleep() time.Duration {
	return time.Duration(m.RetrySleepS) * time.Second
}

// Paths locates the on-disk assets.
type Paths struct {
	// SceneDir is the root scene directory. The controller reads
	// <scene_dir>/<room>/<name>.json and the room's audio/ and videos/
	// subdirectories.
	SceneDir string `yaml:"scene_dir"`
}

// Runner configures scene execution.
type Runner struct {
	TickMS       int    `yaml:"tick_ms"`
	DefaultScene string `yaml:"default_scene"`
}

// Tick returns tick_ms as a duration.
func (r Runner) Tick() time.Duration {
	return time.Duration(r.TickMS) * time.Millisecond
}

// Feedback configures actuator reply tracking.
type Feedback struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

// Timeout returns timeout_ms as a duration.
func (f Feedback) Timeout() time.Duration {
	return time.Duration(f.TimeoutMS) * time.Millisecond
}

// Devices configures the presence registry.
type Devices struct {
	TimeoutS int `yaml:"timeout_s"`
}

// Timeout returns timeout_s as a duration.
func (d Devices) Timeout() time.Duration {
	return time.Duration(d.TimeoutS) * time.Second
}

// Audio configures the local audio engine.
type Audio struct {
	Enabled         bool `yaml:"enabled"`
	SampleRate      int  `yaml:"sample_rate"`
	MaxInitAttempts int  `yaml:"max_init_attempts"`
	InitRetryDelayS int  `yaml:"init_retry_delay_s"`
}

// InitRetryDelay returns init_retry_delay_s as a duration.
func (a Audio) InitRetryDelay() time.Duration {
	return time.Duration(a.InitRetryDelayS) * time.Second
}

// Video configures the external player engine.
type Video struct {
	Enabled              bool   `yaml:"enabled"`
	Player               string `yaml:"player"`
	Socket               string `yaml:"socket"`
	IdleImage            string `yaml:"idle_image"`
	HealthCheckIntervalS int    `yaml:"health_check_interval_s"`
	RestartCooldownS     int    `yaml:"restart_cooldown_s"`
	MaxRestartAttempts   int    `yaml:"max_restart_attempts"`
}

// HealthInterval returns health_check_interval_s as a duration.
func (v Video) HealthInterval() time.Duration {
	return time.Duration(v.HealthCheckIntervalS) * time.Second
}

// RestartCooldown returns restart_cooldown_s as a duration.
func (v Video) RestartCooldown() time.Duration {
	return time.Duration(v.RestartCooldownS) * time.Second
}

// Dashboard configures the HTTP surface. An empty listen address disables it.
type Dashboard struct {
	Listen string `yaml:"listen"`
}

// History configures the run log. An empty dir keeps history in memory.
type History struct {
	Dir string `yaml:"dir"`
}

// Log configures structured logging.
type Log struct {
	Level string `yaml:"level"`
	Ring  int    `yaml:"ring"`
}

// SlogLevel parses the configured level name.
func (l Log) SlogLevel() (slog.Level, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return lv, nil
}

// Default returns the configuration a file is merged over. Room and
// paths.scene_dir have no defaults and must come from the file.
func Default() *Config {
	return &Config{
		MQTT: MQTT{
			URL:             "tcp://127.0.0.1:1883",
			KeepAliveS:      20,
			ConnectTimeoutS: 10,
			RetryAttempts:   5,
			RetrySleepS:     3,
		},
		Runner: Runner{
			TickMS:       100,
			DefaultScene: "main",
		},
		Feedback: Feedback{TimeoutMS: 1000},
		Devices:  Devices{TimeoutS: 180},
		Audio: Audio{
			Enabled:         true,
			SampleRate:      48000,
			MaxInitAttempts: 3,
			InitRetryDelayS: 2,
		},
		Video: Video{
			Enabled:              true,
			Player:               "mpv",
			Socket:               "/tmp/cuebox-mpv.sock",
			HealthCheckIntervalS: 60,
			RestartCooldownS:     10,
			MaxRestartAttempts:   5,
		},
		Dashboard: Dashboard{Listen: "127.0.0.1:8080"},
		Log:       Log{Level: "info", Ring: 500},
	}
}

// Load reads path and merges it over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	} else if !topic.ValidRoom(c.Room) {
		errs = append(errs, fmt.Errorf("room %q must be room<N>, such as room1", c.Room))
	}

	if u, err := url.Parse(c.MQTT.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.url %q is not a broker URL", c.MQTT.URL))
	}
	if c.MQTT.RetryAttempts < 1 {
		errs = append(errs, errors.New("mqtt.retry_attempts must be at least 1"))
	}
	if c.MQTT.ConnectTimeoutS < 1 {
		errs = append(errs, errors.New("mqtt.connect_timeout_s must be at least 1"))
	}

	if c.Paths.SceneDir == "" {
		errs = append(errs, errors.New("paths.scene_dir is required"))
	}

	if c.Runner.TickMS <= 0 {
		errs = append(errs, errors.New("runner.tick_ms must be positive"))
	}
	if c.Runner.DefaultScene == "" {
		errs = append(errs, errors.New("runner.default_scene must not be empty"))
	}
	if c.Feedback.TimeoutMS <= 0 {
		errs = append(errs, errors.New("feedback.timeout_ms must be positive"))
	}
	if c.Devices.TimeoutS <= 0 {
		errs = append(errs, errors.New("devices.timeout_s must be positive"))
	}

	if c.Audio.Enabled && c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Video.Enabled && c.Video.Socket == "" {
		errs = append(errs, errors.New("video.socket is required when video is enabled"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
