package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		k       int
		depth   int
		lexical bool
	)

	cmd := &cobra.Command{
		Use:   "query [path] <text>",
		Short: "Run a similarity query against an indexed project",
		Long: `Embed the query text, find the k nearest chunks in the persistent
vector store, and (if --depth > 0) expand outward over the semantic graph
from those seed nodes.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := "."
			queryText := args[0]
			if len(args) == 2 {
				path = args[0]
				queryText = args[1]
			}

			eng, err := openEngine(path)
			if err != nil {
				return err
			}
			defer eng.Close()

			var filter func(string) bool
			if lexical {
				filter, err = eng.Query.LexicalFilter(ctx, queryText, eng.Config.Search.LexicalCandidates)
				if err != nil {
					return fmt.Errorf("lexical pre-filter: %w", err)
				}
			}

			ids, err := eng.Query.Similarity(ctx, queryText, k, filter)
			if err != nil {
				return fmt.Errorf("similarity search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				_, _ = fmt.Fprintln(out, "No matches found.")
				return nil
			}

			for i, id := range ids {
				_, _ = fmt.Fprintf(out, "%d. %s\n", i+1, id)
			}

			if depth > 0 {
				expansions := eng.Query.ExpandGraph(ids, depth)
				if len(expansions) > 0 {
					_, _ = fmt.Fprintf(out, "\nGraph expansion (depth %d):\n", depth)
					for _, exp := range expansions {
						_, _ = fmt.Fprintf(out, "  %s (depth %d)\n", exp.NodeID, exp.Depth)
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 10, "Number of nearest chunks to return")
	cmd.Flags().IntVar(&depth, "depth", 0, "Graph expansion depth from the matched chunks (0 disables)")
	cmd.Flags().BoolVar(&lexical, "lexical", false, "Pre-filter candidates through the BM25 keyword index before ranking by similarity")

	return cmd
}
