// Package cmd provides the vecdb server's CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

// buildVersion is overridden at build time via -ldflags.
var buildVersion = "dev"

// NewRootCmd creates the root command for the vecdb server CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "In-process vector database with an HTTP interface",
		Long: `server hosts libraries of embedded text chunks in memory, supports
exact and LSH nearest-neighbor search, and periodically snapshots its
state to disk so it survives a restart.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
