package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/cobra"

	"github.com/cuebox/cuebox/pkg/mqtt"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run an embedded MQTT broker for development",
	Long: `Run an embedded MQTT broker.

Meant for workbenches without a site broker: point the controller and
the device firmware at this process and everything speaks through it.
All clients are accepted. Not meant for production rooms.

Examples:
  cuebox broker
  cuebox broker --listen :1884`,
	Args: cobra.NoArgs,
	RunE: runBrokerCmd,
}

var flagBrokerListen string

func init() {
	brokerCmd.Flags().StringVar(&flagBrokerListen, "listen", ":1883", "TCP listen address")
	rootCmd.AddCommand(brokerCmd)
}

func runBrokerCmd(cmd *cobra.Command, args []string) error {
	srv := &mqtt.Server{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.Close()
	}()

	fmt.Printf("MQTT broker listening on %s\n", flagBrokerListen)
	fmt.Println("Press Ctrl+C to exit")

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: flagBrokerListen})
	if err := srv.Serve(tcp); !errors.Is(err, mqtt.ErrServerClosed) {
		return err
	}
	return nil
}
