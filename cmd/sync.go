package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send pending pulses to the backend now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		before, err := a.queue.PendingCount(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.engine.SyncPulses(cmd.Context()); err != nil {
			if errors.Is(err, syncer.ErrNoCredential) {
				return errors.New("no API key configured: run 'pulse login' first")
			}
			return fmt.Errorf("sync failed: %w", err)
		}
		info, err := a.engine.SyncInfo(cmd.Context())
		if err != nil {
			return err
		}
		if before == 0 {
			cmd.Println("Nothing to sync.")
			return nil
		}
		cmd.Printf("Synced %d pulses (%d pending).\n", syncedCount(before, info.Pending), info.Pending)
		return nil
	},
}

// syncedCount estimates how many queued pulses a sync drained. Pulses queued
// by a running daemon during the sync can leave more pending than before.
func syncedCount(before, after int) int {
	return max(before-after, 0)
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
