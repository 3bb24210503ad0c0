package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact <kb>",
		Short: "Compact a knowledge base's vector index",
		Long: `Rebuilds the knowledge base's HNSW index without tombstoned nodes.

Deleting or re-ingesting documents marks vectors as deleted but leaves
them in the graph. Compaction rebuilds the graph from live vectors and
reclaims the space. It runs automatically in the background once enough
deletions accumulate; this command forces it immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.CompactKB(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Compacted index for %q\n", args[0])
			return nil
		},
	}
	return cmd
}
