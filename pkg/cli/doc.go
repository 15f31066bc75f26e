// Package cli holds the terminal output helpers shared by the cuebox
// commands.
//
// This package includes:
//   - Result formatting (YAML, JSON, raw) for commands that print
//     structured data, such as cuebox status
//   - Human-readable value formatting (durations, byte sizes)
//   - The styled pass/fail report used by cuebox validate
//
// Example usage:
//
//	// Output a decoded status payload
//	cli.Output(status, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	})
//
//	// Render a validation report
//	report := cli.NewReport(os.Stdout)
//	report.OK("room1/main.json", "4 states")
//	report.Summary()
package cli
