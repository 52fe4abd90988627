// Accord MCP Server - Exposes the coordination engine as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/accordproto/accord/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:       envOrDefault("ACCORD_API_URL", "http://localhost:8080"),
		APIKey:       os.Getenv("ACCORD_API_KEY"),
		AgentAddress: os.Getenv("ACCORD_AGENT_ADDRESS"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "ACCORD_API_KEY is required")
		os.Exit(1)
	}
	if cfg.AgentAddress == "" {
		fmt.Fprintln(os.Stderr, "ACCORD_AGENT_ADDRESS is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
