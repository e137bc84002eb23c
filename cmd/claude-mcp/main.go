package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bridgekit/claude-mcp/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "claude-mcp",
	Short: "MCP server exposing the Claude CLI as tools",
	Long: `claude-mcp speaks line-delimited JSON-RPC 2.0 over stdio and exposes a
fixed catalog of tools that forward prompts to the claude CLI, with
retry/backoff, timeout bounding and bounded concurrency.

Run without arguments to serve on stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", version.ServerName, version.Version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, callCmd, historyCmd, doctorCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
