package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write today's activity to a file",
	Long:  "Write today's activity to a file. Files ending in .md get Markdown; anything else gets JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		s, err := a.tracker.PulseSummary(cmd.Context())
		if err != nil {
			return err
		}
		data, err := report.RendererFor(path).Render(s)
		if err != nil {
			return fmt.Errorf("rendering summary: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		cmd.Printf("Exported %d records to %s\n", len(s.Data), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
