package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/daemon"
	"github.com/fakeyudi/pulse/internal/event"
)

var (
	runStdin      bool
	runWatch      string
	runStatusFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track activity until interrupted, syncing on a schedule",
	Long: `Run the tracker in the foreground.

With --stdin, editor plugins pipe newline-delimited JSON events:

  {"kind":"text-changed","snapshot":{"file":"/src/main.go","workspace":"/src","content":"..."}}

Otherwise the workspace given by --watch (default: the current directory) is
watched for file writes. The daemon stops when its input ends or on SIGINT or
SIGTERM, making one final sync attempt on the way out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		var sources []event.Source
		if runStdin {
			sources = append(sources, &event.StreamSource{R: cmd.InOrStdin(), Logger: logger})
		}
		if runWatch != "" || !runStdin {
			root := runWatch
			if root == "" {
				if root, err = os.Getwd(); err != nil {
					return err
				}
			}
			sources = append(sources, &event.WatchSource{Root: root, IgnorePatterns: cfg.IgnorePatterns, Logger: logger})
		}

		statusFile := runStatusFile
		if statusFile == "" {
			if statusFile, err = statusPath(); err != nil {
				return err
			}
		}

		d := daemon.New(daemon.Config{
			Sources:     sources,
			StatusPath:  statusFile,
			MetricsAddr: cfg.MetricsAddr,
		}, a.tracker, a.engine,
			daemon.WithLogger(logger),
			daemon.WithMetrics(a.metrics),
		)
		return d.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "read editor events as NDJSON from stdin")
	runCmd.Flags().StringVar(&runWatch, "watch", "", "workspace directory to watch for file writes")
	runCmd.Flags().StringVar(&runStatusFile, "status-file", "", "where to write the live status document")
	rootCmd.AddCommand(runCmd)
}
