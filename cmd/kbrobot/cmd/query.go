package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/agent"
	"github.com/Fang088/FF-KB-Robot/internal/convfile"
	"github.com/Fang088/FF-KB-Robot/pkg/engine"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	jsonOutput   bool
	noStream     bool
	showSources  bool
	conversation string
	files        []string
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <kb> <question>",
		Short: "Ask a question against a knowledge base",
		Long: `Query retrieves the most relevant chunks from the knowledge base and
generates an answer grounded in them, with a confidence score.

Answers stream to stdout as they are generated unless --no-stream
or --json is set.

Examples:
  kbrobot query handbook "退货政策是什么"
  kbrobot query handbook "对比两种方案" --sources
  kbrobot query handbook "总结这份文件" --file ./report.txt`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return runQuery(cmd, args[0], question, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full result as JSON")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "Print the answer only when complete")
	cmd.Flags().BoolVar(&opts.showSources, "sources", false, "Show retrieved source chunks")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "Conversation ID to append this turn to")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "Attach a file to this question (repeatable)")

	return cmd
}

func runQuery(cmd *cobra.Command, kb, question string, opts queryOptions) error {
	eng, cleanup, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()

	attachments, err := attachFiles(cmd, eng, opts)
	if err != nil {
		return err
	}

	req := engine.AskRequest{
		KB:             kb,
		Question:       question,
		ConversationID: opts.conversation,
		Attachments:    attachments,
	}

	streaming := !opts.noStream && !opts.jsonOutput
	var streamed bool
	if streaming {
		req.OnDelta = func(delta string) {
			streamed = true
			fmt.Fprint(out, delta)
		}
	}

	result, err := eng.Ask(cmd.Context(), req)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if streaming {
		// Cached and fallback answers never stream.
		if !streamed {
			fmt.Fprint(out, result.Answer)
		}
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, result.Answer)
	}

	fmt.Fprintf(out, "\nConfidence: %.2f (%s)", result.Confidence.Overall, result.Confidence.Level)
	if result.FromCache {
		fmt.Fprintf(out, "  [cached: %s]", result.CacheHit)
	}
	fmt.Fprintf(out, "  %dms\n", result.ResponseTimeMs)

	if opts.showSources {
		printSources(out, result.Sources)
	}
	return nil
}

// attachFiles uploads --file arguments as conversation attachments.
func attachFiles(cmd *cobra.Command, eng *engine.Engine, opts queryOptions) ([]*convfile.Attachment, error) {
	if len(opts.files) == 0 {
		return nil, nil
	}

	sessionID := opts.conversation
	if sessionID == "" {
		sessionID = "cli"
	}

	attachments := make([]*convfile.Attachment, 0, len(opts.files))
	for _, path := range opts.files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment: %w", err)
		}
		att, err := eng.AttachFile(cmd.Context(), sessionID, filepath.Base(path), f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

func printSources(out io.Writer, sources []agent.Source) {
	if len(sources) == 0 {
		fmt.Fprintln(out, "\nNo sources.")
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range sources {
		snippet := s.Content
		if runes := []rune(snippet); len(runes) > 120 {
			snippet = string(runes[:120]) + "..."
		}
		name := s.Metadata["filename"]
		if name == "" {
			name = s.ID
		}
		fmt.Fprintf(out, "  %d. %s (score %.2f)\n     %s\n", i+1, name, s.Score, snippet)
	}
}
