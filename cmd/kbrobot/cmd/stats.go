package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query statistics",
		Long: `Display query telemetry recorded by past runs:
  - Confidence level distribution
  - Question category distribution
  - Cache hit and error rates
  - Latency distribution
  - Questions that retrieved nothing`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events, err := telemetry.LoadEvents(cfg.TelemetryPath())
	if err != nil {
		return fmt.Errorf("failed to load query log: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	recorder := telemetry.NewRecorder(nil)
	for _, ev := range events {
		if ev.Time.Before(cutoff) {
			continue
		}
		recorder.Record(ev)
	}
	snap := recorder.Snapshot()

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	printStats(cmd.OutOrStdout(), snap, days)
	return nil
}

func printStats(out io.Writer, snap telemetry.Snapshot, days int) {
	fmt.Fprintf(out, "Query stats (last %d days)\n\n", days)
	fmt.Fprintf(out, "Total queries:   %d\n", snap.TotalQueries)
	if snap.TotalQueries == 0 {
		return
	}
	fmt.Fprintf(out, "Avg confidence:  %.2f\n", snap.AvgConfidence)
	fmt.Fprintf(out, "Cache hit rate:  %.0f%%\n", snap.CacheHitRate()*100)
	fmt.Fprintf(out, "Error rate:      %.0f%%\n", snap.ErrorRate()*100)

	if len(snap.Levels) > 0 {
		fmt.Fprintln(out, "\nConfidence levels:")
		for _, level := range []string{"high", "medium", "low"} {
			if n := snap.Levels[level]; n > 0 {
				fmt.Fprintf(out, "  %-8s %d\n", level, n)
			}
		}
	}

	if len(snap.Categories) > 0 {
		fmt.Fprintln(out, "\nCategories:")
		for cat, n := range snap.Categories {
			fmt.Fprintf(out, "  %-12s %d\n", cat, n)
		}
	}

	if len(snap.LatencyDistribution) > 0 {
		fmt.Fprintln(out, "\nLatency:")
		for _, bucket := range []telemetry.LatencyBucket{
			telemetry.BucketP100, telemetry.BucketP1000, telemetry.BucketP5000,
			telemetry.BucketP15000, telemetry.BucketSlow,
		} {
			if n := snap.LatencyDistribution[bucket]; n > 0 {
				fmt.Fprintf(out, "  %-8s %d\n", bucket, n)
			}
		}
	}

	if snap.ZeroSourceCount > 0 {
		fmt.Fprintf(out, "\nZero-source questions (%d):\n", snap.ZeroSourceCount)
		for _, q := range snap.ZeroSourceQuestions {
			fmt.Fprintf(out, "  %s\n", q)
		}
	}
}
