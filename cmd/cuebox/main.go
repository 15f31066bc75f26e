// Package main is the entry point for the cuebox room controller CLI.
//
// Usage:
//
//	cuebox [flags] <command> [args]
//
// Commands:
//
//	run        - Run the room controller from a config file
//	validate   - Check scene and command files without running them
//	status     - Query a running controller's dashboard API
//	broker     - Run an embedded MQTT broker for development
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/cuebox/cuebox/cmd/cuebox/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
