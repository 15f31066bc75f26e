package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuebox/cuebox/cmd/cuebox/internal/config"
	"github.com/cuebox/cuebox/pkg/audio"
	"github.com/cuebox/cuebox/pkg/audio/pcm"
	"github.com/cuebox/cuebox/pkg/controller"
	"github.com/cuebox/cuebox/pkg/dashboard"
	"github.com/cuebox/cuebox/pkg/logring"
	"github.com/cuebox/cuebox/pkg/storage"
	"github.com/cuebox/cuebox/pkg/video"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the room controller",
	Long: `Run the room controller.

The controller connects to the MQTT broker, waits for scene triggers,
plays scene media and serves the operator dashboard. It keeps running
until SIGINT or SIGTERM, then shuts down cleanly: the active scene is
stopped, a room STOP is broadcast and the media engines are torn down.

Scenes live under <scene_dir>/<room>/, audio under
<scene_dir>/<room>/audio/ and videos under <scene_dir>/<room>/videos/.

Examples:
  cuebox run --config /etc/cuebox/room1.yaml
  cuebox run -f config.yaml --mqtt tcp://broker.local:1883`,
	RunE: runControllerCmd,
}

var (
	flagRunConfig    string
	flagRunMQTT      string
	flagRunDashboard string
)

func init() {
	runCmd.Flags().StringVarP(&flagRunConfig, "config", "f", "config.yaml", "config file path")
	runCmd.Flags().StringVar(&flagRunMQTT, "mqtt", "", "override mqtt.url from the config")
	runCmd.Flags().StringVar(&flagRunDashboard, "dashboard", "", "override dashboard.listen from the config")

	rootCmd.AddCommand(runCmd)
}

func runControllerCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagRunConfig)
	if err != nil {
		return err
	}

	// Apply command-line overrides
	if flagRunMQTT != "" {
		cfg.MQTT.URL = flagRunMQTT
	}
	if flagRunDashboard != "" {
		cfg.Dashboard.Listen = flagRunDashboard
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	if IsVerbose() {
		level = slog.LevelDebug
	}

	// Every record passes through the ring so the dashboard can replay
	// recent logs to operators.
	ring := logring.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}), cfg.Log.Ring)
	log := slog.New(ring)
	slog.SetDefault(log)

	roomDir := filepath.Join(cfg.Paths.SceneDir, cfg.Room)
	scenes, err := storage.NewLocal(roomDir)
	if err != nil {
		return fmt.Errorf("scene dir: %w", err)
	}

	deps := controller.Deps{Log: log, Scenes: scenes}
	if cfg.Audio.Enabled {
		deps.Audio = &audio.Engine{
			Dir:             filepath.Join(roomDir, "audio"),
			Output:          pcm.Format{Rate: cfg.Audio.SampleRate, Channels: 2},
			Log:             log,
			MaxInitAttempts: cfg.Audio.MaxInitAttempts,
			InitRetryDelay:  cfg.Audio.InitRetryDelay(),
		}
	}
	if cfg.Video.Enabled {
		deps.Video = &video.Engine{
			Dir:                filepath.Join(roomDir, "videos"),
			Player:             cfg.Video.Player,
			Socket:             cfg.Video.Socket,
			IdleImage:          cfg.Video.IdleImage,
			Log:                log,
			HealthInterval:     cfg.Video.HealthInterval(),
			RestartCooldown:    cfg.Video.RestartCooldown(),
			MaxRestartAttempts: cfg.Video.MaxRestartAttempts,
		}
	}

	ctrl, err := controller.New(controller.Config{
		Room:            cfg.Room,
		URL:             cfg.MQTT.URL,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		KeepAlive:       cfg.MQTT.KeepAliveS,
		ConnectTimeout:  cfg.MQTT.ConnectTimeout(),
		RetryAttempts:   cfg.MQTT.RetryAttempts,
		RetrySleep:      cfg.MQTT.RetrySleep(),
		DefaultScene:    cfg.Runner.DefaultScene,
		Tick:            cfg.Runner.Tick(),
		FeedbackTimeout: cfg.Feedback.Timeout(),
		DeviceTimeout:   cfg.Devices.Timeout(),
		HistoryDir:      cfg.History.Dir,
	}, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Dashboard.Listen != "" {
		dash := dashboard.New(dashboard.Config{
			Controller: ctrl,
			Runs:       ctrl.Runs(),
			Logs:       ring,
			Scenes:     scenes,
			Log:        log,
		})
		go func() {
			if err := dash.Serve(ctx, cfg.Dashboard.Listen); err != nil {
				log.Error("dashboard stopped", "error", err)
			}
		}()
		fmt.Printf("Dashboard: http://%s\n", cfg.Dashboard.Listen)
	}
	fmt.Println("Press Ctrl+C to exit")

	return ctrl.Run(ctx)
}
