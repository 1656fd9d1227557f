package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-file> [path]",
		Short: "Restore the persistent vector store from a backup",
		Long:  `Replace the project's vector store data file with a previously created backup, snapshotting the current state first.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backupPath := args[0]
			path := "."
			if len(args) > 1 {
				path = args[1]
			}

			eng, err := openEngine(path)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Vectors.RestoreFromBackup(cmd.Context(), backupPath); err != nil {
				return fmt.Errorf("restore backup: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored vector store from %s\n", backupPath)
			return nil
		},
	}

	return cmd
}
