package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage documents within a knowledge base",
	}

	cmd.AddCommand(newDocsListCmd())
	cmd.AddCommand(newDocsRemoveCmd())
	return cmd
}

// docOutput is the JSON output format for a document.
type docOutput struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	SizeBytes  int64     `json:"size_bytes"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDocsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <kb>",
		Short: "List documents in a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			docs, err := eng.ListDocuments(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]docOutput, 0, len(docs))
				for _, d := range docs {
					out = append(out, docOutput{
						ID:         d.ID,
						Filename:   d.Filename,
						FileType:   d.FileType,
						SizeBytes:  d.SizeBytes,
						ChunkCount: d.ChunkCount,
						CreatedAt:  d.CreatedAt,
					})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents. Add some with 'kbrobot ingest'.")
				return nil
			}
			for _, d := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d chunks, %d bytes)\n",
					d.ID, d.Filename, d.ChunkCount, d.SizeBytes)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDocsRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <kb> <doc-id>",
		Short: "Remove a document and its vectors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.RemoveDocument(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed document %s\n", args[1])
			return nil
		},
	}
	return cmd
}
