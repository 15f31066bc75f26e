package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/cuebox/cuebox/pkg/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running controller",
	Long: `Query a running controller's dashboard API.

Fetches /api/status and prints a short summary. With --output the raw
payload is printed in the chosen format; with --query it is filtered
through a jq expression first and the results are printed as JSON.

Examples:
  cuebox status
  cuebox status --addr 127.0.0.1:8080 -o json
  cuebox status -q '.devices[] | select(.status == "offline") | .id'`,
	Args: cobra.NoArgs,
	RunE: runStatusCmd,
}

var (
	flagStatusAddr   string
	flagStatusOutput string
	flagStatusQuery  string
)

func init() {
	statusCmd.Flags().StringVar(&flagStatusAddr, "addr", "127.0.0.1:8080", "dashboard address")
	statusCmd.Flags().StringVarP(&flagStatusOutput, "output", "o", "", "output format (yaml, json, raw)")
	statusCmd.Flags().StringVarP(&flagStatusQuery, "query", "q", "", "jq expression applied to the status payload")

	rootCmd.AddCommand(statusCmd)
}

// statusPayload mirrors the dashboard's /api/status response.
type statusPayload struct {
	Room          string  `json:"room"`
	SceneRunning  bool    `json:"scene_running"`
	MQTTConnected bool    `json:"mqtt_connected"`
	UptimeSeconds float64 `json:"uptime_s"`
	Devices       []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"devices"`
	Progress *struct {
		SceneID      string  `json:"sceneId"`
		State        string  `json:"state"`
		SceneElapsed float64 `json:"sceneElapsed"`
	} `json:"progress"`
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/api/status", flagStatusAddr)

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("controller not reachable at %s: %w", flagStatusAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if flagStatusQuery != "" {
		return printQueried(body, flagStatusQuery)
	}
	if flagStatusOutput != "" {
		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		return cli.Output(payload, cli.OutputOptions{Format: cli.OutputFormat(flagStatusOutput)})
	}

	var st statusPayload
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printSummary(st)
	return nil
}

func printSummary(st statusPayload) {
	styles := cli.NewStyles(cli.DefaultTheme)

	mqtt := "connected"
	if !st.MQTTConnected {
		mqtt = "disconnected"
	}
	sceneLine := "idle"
	if st.Progress != nil {
		sceneLine = fmt.Sprintf("%s (state %s, %s)",
			st.Progress.SceneID, st.Progress.State,
			cli.FormatDuration(int(st.Progress.SceneElapsed*1000)))
	} else if st.SceneRunning {
		sceneLine = "running"
	}
	online := 0
	for _, d := range st.Devices {
		if d.Status == "online" {
			online++
		}
	}

	fmt.Printf("%s  %s\n", styles.Label.Render("room:"), st.Room)
	fmt.Printf("%s  %s\n", styles.Label.Render("mqtt:"), mqtt)
	fmt.Printf("%s %s\n", styles.Label.Render("scene:"), sceneLine)
	fmt.Printf("%s %d online, %d offline\n", styles.Label.Render("devices:"), online, len(st.Devices)-online)
	fmt.Printf("%s %s\n", styles.Label.Render("uptime:"), cli.FormatDuration(int(st.UptimeSeconds*1000)))
}

func printQueried(body json.RawMessage, query string) error {
	q, err := gojq.Parse(query)
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}

	// gojq wants plain decoded values: maps, slices, float64.
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	iter := q.Run(payload)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("query: %w", err)
		}
		if err := cli.Output(v, cli.OutputOptions{Format: cli.FormatJSON}); err != nil {
			return err
		}
	}
	return nil
}
