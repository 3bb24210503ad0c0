package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/output"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and provider health",
		Long: `Doctor checks the parts the engine depends on:
  - Configuration validity
  - Metadata database integrity
  - Embedding provider reachability
  - LLM provider reachability

Provider checks make one small API call each.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			checks := eng.Doctor(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(checks); err != nil {
					return err
				}
			} else {
				out := output.New(cmd.OutOrStdout())
				for _, c := range checks {
					if c.OK {
						out.Successf("%-20s %s", c.Name, c.Detail)
					} else {
						out.Errorf("%-20s %s", c.Name, c.Detail)
					}
				}
			}

			var failed int
			for _, c := range checks {
				if !c.OK {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
