package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [path]",
		Short: "Snapshot the persistent vector store",
		Long:  `Copy the project's vector store data file and update log into its backup directory.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			eng, err := openEngine(path)
			if err != nil {
				return err
			}
			defer eng.Close()

			backupPath, err := eng.Vectors.CreateBackup(cmd.Context())
			if err != nil {
				return fmt.Errorf("create backup: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backed up vector store to %s\n", backupPath)
			return nil
		},
	}

	return cmd
}
