package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cigraph/cigraph/internal/store"
)

func newInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display the embedding model and dimensions an index was built with,
its chunk/document counts and on-disk size, and whether the currently
configured embedder is still compatible with it.`,
		Args: cobra.MaximumNArgs(1),
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

			current := &store.EmbedderInfoInput{
				Model:      eng.Provider.ModelName(),
				Backend:    eng.Config.Embeddings.Provider,
				Dimensions: eng.Provider.Dimensions(),
			}

			info, err := store.GetIndexInfo(cmd.Context(), eng.Metadata, eng.ProjectID, eng.DataDir, current)
			if err != nil {
				return fmt.Errorf("read index info: %w", err)
			}
			info.ProjectRoot = eng.Root

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return printIndexInfo(cmd, info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func printIndexInfo(cmd *cobra.Command, info *store.IndexInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Location:    %s\n", info.Location)
	fmt.Fprintf(out, "Project:     %s\n", info.ProjectRoot)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Embedding configuration:")
	if info.IndexModel != "" {
		fmt.Fprintf(out, "  Model:       %s\n", info.IndexModel)
		fmt.Fprintf(out, "  Backend:     %s\n", info.IndexBackend)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.IndexDimensions)
	} else {
		fmt.Fprintln(out, "  (not indexed yet)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Statistics:")
	fmt.Fprintf(out, "  Chunks:      %d\n", info.ChunkCount)
	fmt.Fprintf(out, "  Index size:  %s\n", store.FormatBytes(info.IndexSizeBytes))
	fmt.Fprintf(out, "  BM25 size:   %s\n", store.FormatBytes(info.BM25SizeBytes))
	fmt.Fprintf(out, "  Vector size: %s\n", store.FormatBytes(info.VectorSizeBytes))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Timestamps:")
	fmt.Fprintf(out, "  Created:     %s\n", store.FormatTime(info.CreatedAt))
	fmt.Fprintf(out, "  Last update: %s\n", store.FormatTime(info.UpdatedAt))

	if info.CurrentModel != "" && info.IndexModel != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Current embedder:")
		fmt.Fprintf(out, "  Model:       %s\n", info.CurrentModel)
		fmt.Fprintf(out, "  Dimensions:  %d\n", info.CurrentDimensions)
		if info.Compatible {
			fmt.Fprintln(out, "  Status:      compatible")
		} else {
			fmt.Fprintln(out, "  Status:      INCOMPATIBLE")
			fmt.Fprintf(out, "  Index has %d dims (%s), current embedder has %d (%s).\n",
				info.IndexDimensions, info.IndexModel, info.CurrentDimensions, info.CurrentModel)
			fmt.Fprintln(out, "  Run 'cigraph index' again to rebuild with the current embedder.")
		}
	}

	return nil
}
