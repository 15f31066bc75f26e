package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cuebox",
	Short: "Room show controller for automated museum rooms",
	Long: `cuebox - a room-level show controller.

One cuebox process drives one room: it listens for scene triggers over
MQTT, runs declarative JSON scenes that publish actuator commands, plays
local audio and drives an external video player, and serves a small
operator dashboard.

Commands:
  run        Run the room controller from a config file
  validate   Check scene files without running them
  status     Query a running controller's dashboard API
  broker     Run an embedded MQTT broker for development
  version    Show version information

Examples:
  # Run a room against its config
  cuebox run --config /etc/cuebox/room1.yaml

  # Check every scene for a room before deploying
  cuebox validate scenes/room1/*.json

  # Watch a running controller
  cuebox status --addr 127.0.0.1:8080 --query '.progress.state'`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
