// Package main provides the freza command line interface.
//
// Freza coordinates long-running agents that are invoked directly, through
// channels or on a reflect schedule.
//
// # Basic Usage
//
// Start the API server:
//
//	freza serve
//
// Talk to an agent:
//
//	freza invoke default "hello"
//	freza channel webui "hello" --thread-id <id>
//
// Register agents and channels:
//
//	freza register-agent researcher "Research agent" --system-prompt @prompt.md
//	freza register-channel ops "Operations" --default-agent researcher
//
// # Environment Variables
//
// Every config key can be set as AGENT_<KEY>, for example AGENT_BASE_DIR,
// AGENT_TIMEOUT_SEC or AGENT_HTTP_TOKEN.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
