// Package cmd provides the CLI commands for cigraph.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cigraph/cigraph/internal/logging"
	"github.com/cigraph/cigraph/pkg/version"
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the cigraph CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cigraph",
		Short: "Code intelligence engine: watch, chunk, embed, and query a codebase",
		Long: `cigraph watches a source tree, splits files into semantic chunks,
embeds and graphs them, and answers similarity and graph-expansion queries
over the result.

Run 'cigraph index .' to build an index, then 'cigraph query' to search it.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("cigraph version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.cigraph/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = debugMode
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
