package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cigraph/cigraph/internal/watcher"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or refresh the index for a directory",
		Long: `Scan a directory, chunk its files, embed and graph the chunks, and
persist the result to the project's data directory.

Running index again over an already-indexed project only re-embeds files
that changed since the last run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			eng, err := openEngine(path)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.ensureProject(ctx); err != nil {
				return err
			}

			if prior, err := eng.Metadata.LoadIndexCheckpoint(ctx); err == nil && prior != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Resuming after an interrupted %s run (%d/%d embedded)\n",
					prior.Stage, prior.EmbeddedCount, prior.Total)
			}

			if err := eng.Metadata.SaveIndexCheckpoint(ctx, "scanning", 0, 0, eng.Provider.ModelName()); err != nil {
				return fmt.Errorf("save scanning checkpoint: %w", err)
			}

			paths, err := scanPaths(ctx, eng)
			if err != nil {
				return err
			}

			events := make([]watcher.FileEvent, len(paths))
			now := time.Now()
			for i, p := range paths {
				events[i] = watcher.FileEvent{Path: p, Operation: watcher.OpCreate, Timestamp: now}
			}

			if err := eng.Metadata.SaveIndexCheckpoint(ctx, "embedding", len(paths), 0, eng.Provider.ModelName()); err != nil {
				return fmt.Errorf("save embedding checkpoint: %w", err)
			}

			if err := eng.Coordinator.HandleEvents(ctx, events); err != nil {
				return fmt.Errorf("index files: %w", err)
			}

			if err := eng.Coordinator.ReconcileOnStartup(ctx); err != nil {
				return fmt.Errorf("reconcile gitignore state: %w", err)
			}

			if err := eng.recordIndexState(ctx); err != nil {
				return err
			}

			if err := eng.Metadata.SaveIndexCheckpoint(ctx, "complete", len(paths), len(paths), eng.Provider.ModelName()); err != nil {
				return fmt.Errorf("save completion checkpoint: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files from %s into %s\n", len(paths), eng.Root, eng.DataDir)
			return nil
		},
	}

	return cmd
}
