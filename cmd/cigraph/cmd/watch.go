package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cigraph/cigraph/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and keep its index up to date",
		Long: `Run an initial index, then watch the directory for changes and
incrementally re-index files as they're created, modified, or deleted.
Runs until interrupted (Ctrl+C).`,
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
			if err := eng.Coordinator.ReconcileOnStartup(ctx); err != nil {
				return fmt.Errorf("reconcile gitignore state: %w", err)
			}
			if err := eng.Coordinator.ReconcileFilesOnStartup(ctx); err != nil {
				return fmt.Errorf("reconcile file changes: %w", err)
			}

			w, err := watcher.NewHybridWatcher(watcher.Options{
				DebounceWindow: eng.Config.Watcher.DebounceWindow,
				PollInterval:   eng.Config.Watcher.PollInterval,
				EventBufferSize: eng.Config.Watcher.EventBufferSize,
			})
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			if err := w.Start(ctx, eng.Root); err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}
			defer func() { _ = w.Stop() }()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (data dir %s)\n", eng.Root, eng.DataDir)
			return runWatchLoop(ctx, eng, w)
		},
	}

	return cmd
}

func runWatchLoop(ctx context.Context, eng *engine, w *watcher.HybridWatcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := eng.Coordinator.HandleEvents(ctx, batch); err != nil {
				slog.Warn("failed to process watcher batch", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
