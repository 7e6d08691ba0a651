package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pointerd/internal/mcp"
)

// mcpCmd serves the click pipeline as MCP tools on stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the click pipeline and session tools over the MCP stdio
transport, for use as an agent tool server.

Examples:
  # Run as an MCP server
  pointerd mcp

  # With a config file
  pointerd mcp --config /etc/pointerd/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, svcs, err := initServices()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		srv, err := mcp.NewServer(&mcp.Config{
			Name:         "pointerd",
			Version:      version,
			Logger:       logger,
			ScreenWidth:  cfg.Screen.Width,
			ScreenHeight: cfg.Screen.Height,
		}, svcs.pipeline, svcs.store, svcs.analytics)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		return srv.Run(cmd.Context())
	},
}
