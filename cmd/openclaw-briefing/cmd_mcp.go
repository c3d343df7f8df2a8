package main

import (
	"log"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	briefingmcp "github.com/ajitpratap0/openclaw-briefing/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout carries only protocol traffic.

Tools exposed:
  check_knowledge_graph    whether a reader already knows an entity
  list_knowledge_entities  a reader's known entities, most confident first
  prune_knowledge          remove stale low-confidence entities (dry run by default)
  latest_briefing          a reader's most recent briefing

If storage is unavailable at startup the server still starts and tool
calls return MCP error results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			var srv *briefingmcp.Server
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				logger.Error("mcp: failed to open storage; tool calls will fail", "error", err)
				srv = briefingmcp.NewServer(nil, nil, logger)
			} else {
				defer a.Close()
				srv = briefingmcp.NewServer(a.engine, a.store, logger)
			}

			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)
			logger.Info("mcp: openclaw-briefing MCP server starting", "transport", "stdio")
			return mcpserver.ServeStdio(srv.MCPServer(), mcpserver.WithErrorLogger(errLogger))
		},
	}
	return cmd
}
