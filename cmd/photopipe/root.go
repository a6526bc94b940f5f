package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"photopipe/internal/config"
	"photopipe/internal/logging"
	"photopipe/internal/store"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger
)

// openLedger opens the batch ledger configured in paths.db_path. Callers
// own the returned store and must close it.
func openLedger() (*store.Store, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	st, err := store.New(globalCfg.Paths.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return st, nil
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photopipe",
		Short: "Batch photo transfer and reconciliation pipeline",
		Long: `photopipe moves batches of photos from this machine to a destination
import machine and confirms what happened to each file. It stages photos
into timestamped batches, wakes the destination, transfers the batch over
SFTP, and waits for a completion manifest that maps every imported file
back to its original path.

The same binary runs the destination side: a watcher daemon that imports
arriving batches, reconciles them, and applies the retention policy.`,
		Example: `  photopipe send ~/Pictures/export/*.jpg
  photopipe status
  photopipe status --recheck 20260801_143005
  photopipe watch
  photopipe cleanup
  photopipe config init`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.Setup(logLevel, logFormat)

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && cmd.Name() != "config" {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newSendCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newReconcileCmd(),
		newCleanupCmd(),
		newConfigCmd(),
	)

	return cmd
}
