// Package cmd provides the CLI commands for ragkb.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the ragkb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragkb",
		Short: "Knowledge-base retrieval engine for LLM context",
		Long: `ragkb turns directories of plain-text documents into queryable
knowledge bases: files are chunked, embedded, and indexed in memory,
and queries return a ready-to-use context block with citations.

Run 'ragkb serve' to expose the engine to AI clients over MCP, or use
the kb/query subcommands directly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragkb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./ragkb.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newKBCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newEnableCmd())
	cmd.AddCommand(newDisableCmd())
	cmd.AddCommand(newModeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
