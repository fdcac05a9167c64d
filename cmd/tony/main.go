// Command tony runs the Tony voice assistant.
//
// Usage:
//
//	tony [flags] <command> [args]
//
// Commands:
//
//	serve  - Start the voice and HTTP server
//	ask    - Ask one question over text
//	tools  - List or call the data tools
//
// Configuration comes from an optional YAML file (--config) and the
// environment. API keys are read from MURF_API_KEY, ASSEMBLY_AI_API_KEY,
// GEMINI_API_KEY and the data provider variables.
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-tony/cmd/tony/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
