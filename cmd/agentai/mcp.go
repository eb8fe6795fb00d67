package main

import (
	"github.com/spf13/cobra"

	"github.com/Jazzman94/agentai/internal/gateway/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the operations as an MCP server on stdio",
	Long: `Run an MCP (Model Context Protocol) server on stdin/stdout. Each
operation is registered as an MCP tool; logs are written to stderr.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		sc, err := setupCommand()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		srv, err := mcpserver.New(mcpserver.Config{
			Name:    sc.Config.MCPServerName(),
			Version: version,
		}, sc.Dispatcher, sc.Workspace.Root, sc.Logger)
		if err != nil {
			return err
		}

		return runGateway(sc, "mcp", srv)
	},
}
