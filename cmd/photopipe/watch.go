package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"photopipe/internal/cleanup"
	"photopipe/internal/config"
	"photopipe/internal/logging"
	"photopipe/internal/metrics"
	"photopipe/internal/reconcile"
	"photopipe/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the destination-side watcher daemon",
		Long: `Watch runs on the destination machine. It waits for batch directories to
become ready in the incoming store, runs the configured import command on
each, writes the completion manifest, moves imported files to the
processed store, and applies the retention policy on a schedule.

Only one watcher may run per machine; a lock file enforces this.`,
		Example: `  photopipe watch
  photopipe watch --log-format json`,
		RunE: watchRun,
	}
}

func watchRun(cmd *cobra.Command, args []string) error {
	if err := globalCfg.ValidateDestination(); err != nil {
		return err
	}

	lock := flock.New(globalCfg.Daemon.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", globalCfg.Daemon.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another watcher is already running (lock %s)", globalCfg.Daemon.LockPath)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	lineLog := logging.NewLineLog(globalCfg.Paths.LogPath)

	w := &watcher.Watcher{
		IncomingDir: globalCfg.Paths.IncomingDir,
		ReportsDir:  globalCfg.Paths.ReportsDir,
		Rescan:      time.Duration(globalCfg.Daemon.RescanSeconds) * time.Second,
		Importer: &watcher.CommandImporter{
			Command: globalCfg.Daemon.ImportCommand,
			Timeout: time.Duration(globalCfg.Daemon.ImportTimeoutSeconds) * time.Second,
			Logger:  logger,
		},
		Generator: &reconcile.Generator{
			ReportsDir:   globalCfg.Paths.ReportsDir,
			ProcessedDir: globalCfg.Paths.ProcessedDir,
			Logger:       logger,
		},
		Logger:  logger,
		Metrics: m,
		LineLog: lineLog,
	}

	sweeper := &cleanup.Sweeper{
		IncomingDir:  globalCfg.Paths.IncomingDir,
		ProcessedDir: globalCfg.Paths.ProcessedDir,
		ReportsDir:   globalCfg.Paths.ReportsDir,
		ArchiveDir:   globalCfg.Paths.ArchiveDir,
		Policy:       globalCfg.Cleanup,
		Logger:       logger,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx)
	})

	g.Go(func() error {
		return runSweeps(ctx, sweeper, globalCfg)
	})

	if globalCfg.Daemon.MetricsListen != "" {
		g.Go(func() error {
			return serveMetrics(ctx, globalCfg.Daemon.MetricsListen, m)
		})
	}

	logger.Info("watcher daemon started",
		"incoming", globalCfg.Paths.IncomingDir, "run_id", logging.RunID())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("watcher daemon stopped")
	return nil
}

// runSweeps applies the retention policy at startup (when configured) and
// then on the sweep interval.
func runSweeps(ctx context.Context, sweeper *cleanup.Sweeper, cfg *config.Config) error {
	if cfg.Cleanup.StartupCleanup {
		if report, err := sweeper.Sweep(); err != nil {
			logger.Error("startup sweep failed", "error", err)
		} else if report.PurgedProcessed+report.PurgedIncoming > 0 {
			logger.Info("startup sweep finished",
				"purged_processed", report.PurgedProcessed,
				"purged_incoming", report.PurgedIncoming,
				"archived", report.Archived)
		}
	}

	interval := time.Duration(cfg.Daemon.SweepSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if report, err := sweeper.Sweep(); err != nil {
				logger.Error("retention sweep failed", "error", err)
			} else if report.PurgedProcessed+report.PurgedIncoming > 0 {
				logger.Info("retention sweep finished",
					"purged_processed", report.PurgedProcessed,
					"purged_incoming", report.PurgedIncoming,
					"archived", report.Archived)
			}
		}
	}
}

// serveMetrics exposes the Prometheus endpoint until the context ends.
func serveMetrics(ctx context.Context, listen string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", listen)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}
