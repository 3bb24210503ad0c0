package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/store"
)

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
		Long:  `Create, list, and delete knowledge bases.`,
	}

	cmd.AddCommand(newKBCreateCmd())
	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBDeleteCmd())
	return cmd
}

func newKBCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			kb, err := eng.CreateKB(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created knowledge base %q (%s)\n", kb.Name, kb.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Knowledge base description")
	return cmd
}

// kbOutput is the JSON output format for a knowledge base.
type kbOutput struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func toKBOutput(kb *store.KnowledgeBase) kbOutput {
	return kbOutput{
		ID:            kb.ID,
		Name:          kb.Name,
		Description:   kb.Description,
		DocumentCount: kb.DocumentCount,
		ChunkCount:    kb.ChunkCount,
		CreatedAt:     kb.CreatedAt,
	}
}

func newKBListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			kbs, err := eng.ListKBs(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]kbOutput, 0, len(kbs))
				for _, kb := range kbs {
					out = append(out, toKBOutput(kb))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(kbs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No knowledge bases. Create one with 'kbrobot kb create <name>'.")
				return nil
			}
			for _, kb := range kbs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d docs, %d chunks)\n",
					kb.ID, kb.Name, kb.DocumentCount, kb.ChunkCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newKBDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name-or-id>",
		Short: "Delete a knowledge base and its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.DeleteKB(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted knowledge base %q\n", args[0])
			return nil
		},
	}
	return cmd
}
