package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/output"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <kb> <path>",
		Short: "Ingest a file or directory into a knowledge base",
		Long: `Ingest extracts text from the given file (or every supported file
under the given directory), chunks it, embeds the chunks, and adds
them to the knowledge base's vector index.

Files whose content is already in the knowledge base are skipped.

Examples:
  kbrobot ingest handbook ./docs/intro.md
  kbrobot ingest handbook ./docs/`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runIngest(cmd *cobra.Command, kb, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}

	eng, cleanup, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	if !info.IsDir() {
		report, err := eng.IngestFile(cmd.Context(), kb, path)
		if err != nil {
			return err
		}
		if report.Skipped {
			out.Warningf("Skipped %s (already ingested)", report.Filename)
			return nil
		}
		out.Successf("Ingested %s: %d chunks, %d vectors in %s",
			report.Filename, report.Chunks, report.Vectors, report.Duration.Round(time.Millisecond))
		return nil
	}

	reports, err := eng.IngestDir(cmd.Context(), kb, path)
	if err != nil {
		return err
	}

	var ok, skipped, failed int
	for _, fr := range reports {
		switch {
		case fr.Err != nil:
			failed++
			out.Errorf("%s: %v", fr.Path, fr.Err)
		case fr.Report.Skipped:
			skipped++
		default:
			ok++
			out.Successf("%s: %d chunks", fr.Path, fr.Report.Chunks)
		}
	}
	out.Statusf("", "Done: %d ingested, %d skipped, %d failed", ok, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed to ingest", failed)
	}
	return nil
}
