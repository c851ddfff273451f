package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	mkmcp "github.com/ormasoftchile/missionkit/pkg/ecosystem/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve mission tools to AI agents over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.ServeStdio(mkmcp.NewServer(version))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
