package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/config"
	"github.com/fakeyudi/pulse/internal/logging"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is built from cfg once it is loaded.
var logger = logging.Nop()

var (
	flagLogLevel string
	flagBackend  string
)

var rootCmd = &cobra.Command{
	Use:          "pulse",
	Short:        "Track editor activity and sync it to your dashboard",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject(cwd)
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)

		// Flags win over both files.
		if flagLogLevel != "" {
			cfg.Logging.Level = flagLogLevel
		}
		if flagBackend != "" {
			cfg.Storage.Backend = flagBackend
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger = logging.New(logging.Config{
			Level:  logging.Level(cfg.Logging.Level),
			Format: logging.Format(cfg.Logging.Format),
			Output: cmd.ErrOrStderr(),
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "storage backend (file, sqlite, redis, memory)")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}
