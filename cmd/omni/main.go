// Command omni runs the multi-agent assistant: the HTTP/WebSocket server,
// a terminal chat client and small admin commands for MCP servers and
// stored sessions.
//
// Usage:
//
//	omni [--config PATH] <command> [flags]
//
// Commands:
//
//	serve     - Run the HTTP and WebSocket API
//	chat      - Chat in the terminal
//	mcp       - List, add and remove MCP servers
//	sessions  - Inspect stored chat sessions
//	doctor    - Run health checks on the configuration
//	version   - Print the version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
