package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/report"
	"github.com/fakeyudi/pulse/internal/tui"
)

var plainOutput bool

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show today's activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		s, err := a.tracker.PulseSummary(cmd.Context())
		if err != nil {
			return err
		}
		if plainOutput {
			printSummary(cmd.OutOrStdout(), s)
			return nil
		}
		return tui.Run(s, "today")
	},
}

// printSummary writes a plain-text summary to w.
func printSummary(w io.Writer, s *report.Summary) {
	totals := report.ComputeTotals(s)
	start, end := s.Window()

	fmt.Fprintln(w, "## Overview")
	if !start.IsZero() {
		fmt.Fprintf(w, "  Window:    %s - %s (%s)\n", start.Local().Format("2006-01-02 15:04"), end.Local().Format("15:04"), s.Timezone)
	}
	fmt.Fprintf(w, "  Active:    %s\n", idle.Format(totals.Active))
	fmt.Fprintf(w, "  Entities:  %d\n", totals.Entities)
	fmt.Fprintf(w, "  Pulses:    %d raw, %d aggregated\n", totals.Raw, totals.Aggregated)

	if len(totals.Languages) > 0 {
		fmt.Fprintln(w, "\n## Languages")
		for _, b := range totals.Languages {
			fmt.Fprintf(w, "  %-20s %s\n", b.Name, idle.Format(b.Millis))
		}
	}
	if len(totals.Projects) > 0 {
		fmt.Fprintln(w, "\n## Projects")
		for _, b := range totals.Projects {
			fmt.Fprintf(w, "  %-20s %s\n", b.Name, idle.Format(b.Millis))
		}
	}

	fmt.Fprintln(w, "\n## Pulses")
	if len(s.Data) == 0 {
		fmt.Fprintln(w, "  (no activity recorded today)")
		return
	}
	for _, e := range s.Data {
		kind := "pulse"
		if e.IsAggregated() {
			kind = "aggregated"
		}
		fmt.Fprintf(w, "  %s  %-10s  %s\n", time.UnixMilli(e.Key()).Format("15:04:05"), kind, e.Entity())
	}
}

func init() {
	summaryCmd.Flags().BoolVar(&plainOutput, "plain", false, "print plain text instead of opening the viewer")
	rootCmd.AddCommand(summaryCmd)
}
