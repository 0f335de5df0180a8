package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/output"
	"github.com/Aman-CERP/cpid/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request statistics recorded by the server",
		Long: `Display the request telemetry a server has recorded:
  - Requests per command type
  - Latency distribution
  - Most looked-up names
  - Recent lookups that found nothing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput, days, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of names and misses to show")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days, limit int) error {
	path := appConfig.Telemetry.Path
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no telemetry recorded at %s\nRun 'cpid serve' with telemetry enabled to collect some", path)
	}

	store, err := telemetry.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if days < 1 {
		days = 1
	}
	now := time.Now()
	report, err := store.Report(
		now.AddDate(0, 0, -(days-1)).Format(time.DateOnly),
		now.Format(time.DateOnly),
		limit)
	if err != nil {
		return fmt.Errorf("failed to read telemetry: %w", err)
	}

	if jsonOutput {
		return output.NewPretty(cmd.OutOrStdout()).JSON(report)
	}
	printReport(output.New(cmd.OutOrStdout()), report)
	return nil
}

func printReport(out *output.Writer, r *telemetry.Report) {
	out.Linef("Request Statistics (%s to %s)", r.From, r.To)
	out.Line("=========================================")
	out.Linef("Total Requests: %d", r.Total())
	out.Line("")

	if len(r.CommandCounts) > 0 {
		out.Line("By Command:")
		commands := make([]string, 0, len(r.CommandCounts))
		for c := range r.CommandCounts {
			commands = append(commands, c)
		}
		sort.Strings(commands)
		for _, c := range commands {
			out.Linef("  %-22s %d", c, r.CommandCounts[c])
		}
		out.Line("")
	}

	if len(r.Latencies) > 0 {
		out.Line("Latency:")
		for _, b := range []telemetry.LatencyBucket{
			telemetry.BucketP1, telemetry.BucketP10, telemetry.BucketP100,
			telemetry.BucketP1000, telemetry.BucketSlow,
		} {
			if n := r.Latencies[b]; n > 0 {
				out.Linef("  %-6s %d", b, n)
			}
		}
		out.Line("")
	}

	if len(r.TopNames) > 0 {
		out.Line("Top Names:")
		for i, nc := range r.TopNames {
			out.Linef("  %d. %s (%d)", i+1, nc.Name, nc.Count)
		}
	} else {
		out.Line("Top Names: (none recorded yet)")
	}
	out.Line("")

	if len(r.RecentMisses) > 0 {
		out.Line("Recent Misses:")
		for _, name := range r.RecentMisses {
			out.Linef("  - %s", name)
		}
	} else {
		out.Line("Recent Misses: (none)")
	}
}
