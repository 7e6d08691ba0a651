// Pointerd is a coordinate-accurate click daemon for remote virtual
// desktops. It drives the pointer through a self-calibrating click
// pipeline and serves the result over an HTTP API and an MCP stdio
// transport.
//
// Usage:
//
//	# Start the HTTP daemon with defaults
//	pointerd
//
//	# Start with a config file
//	pointerd --config /etc/pointerd/config.yaml
//
//	# Serve MCP tools on stdio (for agent integration)
//	pointerd mcp
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pointerd",
	Short: "Self-calibrating click daemon for remote desktops",
	Long: `pointerd executes screen clicks with drift compensation, snap
refinement and post-click verification, learning from every click it
journals. The daemon serves an HTTP API; the mcp subcommand serves the
same pipeline as MCP tools on stdio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pointerd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
