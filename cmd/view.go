package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/report"
	"github.com/fakeyudi/pulse/internal/tui"
)

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View an exported summary file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		s, err := report.ParserFor(path).Parse(data)
		if err != nil {
			return err
		}

		if plainOutput {
			printSummary(cmd.OutOrStdout(), s)
			return nil
		}
		return tui.Run(s, filepath.Base(path))
	},
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "print plain text instead of opening the viewer")
	rootCmd.AddCommand(viewCmd)
}
