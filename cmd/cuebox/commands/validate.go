package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuebox/cuebox/pkg/cli"
	"github.com/cuebox/cuebox/pkg/scene"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file...>",
	Short: "Validate scene and command files",
	Long: `Validate scene and command files without running them.

Each file is parsed and checked: a defined initial state, resolvable
transition targets, contract-valid mqtt actions and sane timing values.
Files whose top-level value is an array are checked as command files.
The exit code is nonzero when any file fails, so the command slots into
deploy scripts.

Examples:
  cuebox validate scenes/room1/main.json
  cuebox validate scenes/room1/*.json scenes/room1/commands/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidateCmd,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	report := cli.NewReport(os.Stdout)

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			report.Fail(path, err)
			continue
		}

		if isCommandDoc(data) {
			acts, err := scene.ParseCommand(data)
			if err != nil {
				report.Fail(path, err)
				continue
			}
			report.OK(path, fmt.Sprintf("command, %d actions", len(acts)))
			continue
		}

		s, err := scene.Parse(data)
		if err != nil {
			report.Fail(path, err)
			continue
		}
		report.OK(path, fmt.Sprintf("%d states, %s", len(s.States), cli.FormatBytes(int64(len(data)))))
	}
	report.Summary()

	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d files failed validation", n, len(args))
	}
	return nil
}

// isCommandDoc reports whether data is a bare action array, the shape of
// command files, rather than a scene object.
func isCommandDoc(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
