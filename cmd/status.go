package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/auth"
	"github.com/fakeyudi/pulse/internal/daemon"
	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/store"
	"github.com/fakeyudi/pulse/internal/syncer"
)

var (
	statusLabel = lipgloss.NewStyle().Bold(true).Width(14)
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusErr   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's total, current activity and sync health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		total, err := a.tracker.TodayTotal(cmd.Context())
		if err != nil {
			return err
		}
		info, err := a.engine.SyncInfo(cmd.Context())
		if err != nil {
			return err
		}
		credential, err := a.queue.Credential(cmd.Context())
		if err != nil {
			return err
		}

		var live *daemon.Status
		if path, err := statusPath(); err == nil {
			st, err := daemon.ReadStatus(afero.NewOsFs(), path)
			switch {
			case err == nil:
				live = &st
			case !errors.Is(err, fs.ErrNotExist):
				logger.Debug("reading status file", "path", path, "error", err.Error())
			}
		}

		printStatus(cmd.OutOrStdout(), total, live, info, credential, time.Now())
		return nil
	},
}

func printStatus(w io.Writer, total int64, live *daemon.Status, info syncer.Info, credential string, now time.Time) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", statusLabel.Render(label), value)
	}

	// A running daemon has fresher numbers than the store.
	if live != nil && live.TodayTotal > total {
		total = live.TodayTotal
	}
	row("Today", idle.Format(total))

	switch {
	case live == nil:
		row("Tracker", statusDim.Render("not running"))
	case live.Paused:
		row("Tracker", statusWarn.Render("paused (inactive)"))
	case live.Debugging:
		row("Tracker", statusOK.Render("debugging"))
	case live.IsActive:
		row("Tracker", statusOK.Render("active"))
	default:
		row("Tracker", statusWarn.Render("idle"))
	}
	if live != nil && live.Entity != "" {
		row("Editing", live.Entity)
	}
	if live != nil && live.LastActivity > 0 {
		row("Last activity", humanize.RelTime(time.UnixMilli(live.LastActivity), now, "ago", "from now"))
	}

	st := info.Status
	switch st.APIStatus {
	case store.APIStatusOK:
		row("API", statusOK.Render("ok"))
	case store.APIStatusError:
		msg := "error"
		if st.LastError != "" {
			msg += ": " + st.LastError
		}
		row("API", statusErr.Render(msg))
	default:
		row("API", statusDim.Render("unknown"))
	}

	if st.LastSyncTime > 0 {
		row("Last sync", humanize.RelTime(time.UnixMilli(st.LastSyncTime), now, "ago", "from now"))
	} else {
		row("Last sync", statusDim.Render("never"))
	}
	row("Syncs", humanize.Comma(int64(st.SyncCount)))
	row("Pending", humanize.Comma(int64(info.Pending)))

	if credential == "" {
		row("API key", statusErr.Render("not set (run 'pulse login')"))
	} else {
		row("API key", auth.Mask(credential))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
