// Command livemeet runs an AI-assisted live meeting session from the
// microphone.
//
// Usage:
//
//	livemeet run --meeting <id> [--mode text|audio|off]
//	livemeet transcript --session <id>
package main

import (
	"fmt"
	"os"

	"livemeet/cmd/livemeet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
