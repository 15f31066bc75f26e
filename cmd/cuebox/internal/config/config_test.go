package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuebox/cuebox/cmd/cuebox/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	if cfg.MQTT.URL != "tcp://127.0.0.1:1883" {
		t.Errorf("MQTT.URL = %q", cfg.MQTT.URL)
	}
	if cfg.MQTT.RetryAttempts != 5 {
		t.Errorf("MQTT.RetryAttempts = %d, want 5", cfg.MQTT.RetryAttempts)
	}
	if cfg.MQTT.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.MQTT.ConnectTimeout())
	}
	if cfg.Runner.TickMS != 100 {
		t.Errorf("Runner.TickMS = %d, want 100", cfg.Runner.TickMS)
	}
	if cfg.Runner.DefaultScene != "main" {
		t.Errorf("Runner.DefaultScene = %q, want main", cfg.Runner.DefaultScene)
	}
	if cfg.Feedback.Timeout() != time.Second {
		t.Errorf("Feedback.Timeout = %v, want 1s", cfg.Feedback.Timeout())
	}
	if cfg.Devices.Timeout() != 3*time.Minute {
		t.Errorf("Devices.Timeout = %v, want 3m", cfg.Devices.Timeout())
	}
	if !cfg.Audio.Enabled || cfg.Audio.SampleRate != 48000 {
		t.Errorf("Audio defaults = %+v", cfg.Audio)
	}
	if !cfg.Video.Enabled || cfg.Video.Player != "mpv" {
		t.Errorf("Video defaults = %+v", cfg.Video)
	}
	if cfg.Dashboard.Listen != "127.0.0.1:8080" {
		t.Errorf("Dashboard.Listen = %q", cfg.Dashboard.Listen)
	}
	if cfg.Log.Level != "info" || cfg.Log.Ring != 500 {
		t.Errorf("Log defaults = %+v", cfg.Log)
	}
}

func TestLoad_MinimalFile(t *testing.T) {
	path := writeConfig(t, `
room: room1
paths:
  scene_dir: /opt/cuebox/scenes
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Room != "room1" {
		t.Errorf("Room = %q", cfg.Room)
	}
	if cfg.Paths.SceneDir != "/opt/cuebox/scenes" {
		t.Errorf("SceneDir = %q", cfg.Paths.SceneDir)
	}
	// Everything not in the file keeps its default.
	if cfg.MQTT.URL != "tcp://127.0.0.1:1883" {
		t.Errorf("MQTT.URL = %q, want default", cfg.MQTT.URL)
	}
	if cfg.Runner.TickMS != 100 {
		t.Errorf("Runner.TickMS = %d, want default 100", cfg.Runner.TickMS)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
room: room2
mqtt:
  url: tcp://broker.local:1883
  username: show
  password: secret
  keepalive_s: 30
  connect_timeout_s: 5
  retry_attempts: 8
  retry_sleep_s: 1
paths:
  scene_dir: /srv/scenes
runner:
  tick_ms: 50
  default_scene: intro
feedback:
  timeout_ms: 500
devices:
  timeout_s: 60
audio:
  enabled: false
video:
  enabled: true
  player: mpv
  socket: /run/cuebox/mpv.sock
  idle_image: /srv/scenes/room2/idle.png
  health_check_interval_s: 30
  restart_cooldown_s: 5
  max_restart_attempts: 3
dashboard:
  listen: 0.0.0.0:9090
history:
  dir: /var/lib/cuebox/history
log:
  level: debug
  ring: 200
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Room != "room2" {
		t.Errorf("Room = %q", cfg.Room)
	}
	if cfg.MQTT.Username != "show" || cfg.MQTT.Password != "secret" {
		t.Errorf("MQTT credentials = %q/%q", cfg.MQTT.Username, cfg.MQTT.Password)
	}
	if cfg.MQTT.RetryAttempts != 8 || cfg.MQTT.RetrySleep() != time.Second {
		t.Errorf("MQTT retry = %d/%v", cfg.MQTT.RetryAttempts, cfg.MQTT.RetrySleep())
	}
	if cfg.Runner.Tick() != 50*time.Millisecond || cfg.Runner.DefaultScene != "intro" {
		t.Errorf("Runner = %+v", cfg.Runner)
	}
	if cfg.Audio.Enabled {
		t.Error("Audio.Enabled should be overridden to false")
	}
	if cfg.Video.HealthInterval() != 30*time.Second || cfg.Video.RestartCooldown() != 5*time.Second {
		t.Errorf("Video timing = %v/%v", cfg.Video.HealthInterval(), cfg.Video.RestartCooldown())
	}
	if cfg.History.Dir != "/var/lib/cuebox/history" {
		t.Errorf("History.Dir = %q", cfg.History.Dir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Ring != 200 {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "room: [unclosed")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load should fail for malformed YAML")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Room = "room1"
		cfg.Paths.SceneDir = "/opt/cuebox/scenes"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"missing room", func(c *config.Config) { c.Room = "" }, "room is required"},
		{"bad room name", func(c *config.Config) { c.Room = "hallway" }, "room<N>"},
		{"bad url", func(c *config.Config) { c.MQTT.URL = "not a url" }, "mqtt.url"},
		{"zero retries", func(c *config.Config) { c.MQTT.RetryAttempts = 0 }, "retry_attempts"},
		{"zero connect timeout", func(c *config.Config) { c.MQTT.ConnectTimeoutS = 0 }, "connect_timeout_s"},
		{"missing scene dir", func(c *config.Config) { c.Paths.SceneDir = "" }, "scene_dir"},
		{"zero tick", func(c *config.Config) { c.Runner.TickMS = 0 }, "tick_ms"},
		{"empty default scene", func(c *config.Config) { c.Runner.DefaultScene = "" }, "default_scene"},
		{"zero feedback timeout", func(c *config.Config) { c.Feedback.TimeoutMS = 0 }, "timeout_ms"},
		{"zero device timeout", func(c *config.Config) { c.Devices.TimeoutS = 0 }, "timeout_s"},
		{"zero sample rate", func(c *config.Config) { c.Audio.SampleRate = 0 }, "sample_rate"},
		{"missing video socket", func(c *config.Config) { c.Video.Socket = "" }, "video.socket"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "chatty" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := config.Default()
	// Room and scene_dir both missing.
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "room is required") || !strings.Contains(msg, "scene_dir") {
		t.Errorf("joined error should report both problems, got: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		lv, err := config.Log{Level: tt.in}.SlogLevel()
		if err != nil {
			t.Errorf("SlogLevel(%q): %v", tt.in, err)
			continue
		}
		if lv != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, lv, tt.want)
		}
	}

	if _, err := (config.Log{Level: "chatty"}).SlogLevel(); err == nil {
		t.Error("SlogLevel should reject unknown names")
	}
}

func TestDisabledVideoSkipsSocketCheck(t *testing.T) {
	cfg := config.Default()
	cfg.Room = "room1"
	cfg.Paths.SceneDir = "/opt/cuebox/scenes"
	cfg.Video.Enabled = false
	cfg.Video.Socket = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled video should not require a socket: %v", err)
	}
}
