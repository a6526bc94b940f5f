// Package watcher is the destination-side arrival loop: it notices batch
// directories whose ready marker has appeared, validates the ordering
// contract, runs the import step, and hands the batch to reconciliation.
// Batches are processed strictly one at a time, oldest first.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"photopipe/internal/batch"
	"photopipe/internal/logging"
	"photopipe/internal/manifest"
	"photopipe/internal/metrics"
	"photopipe/internal/reconcile"
)

// Watcher drives arrival detection and batch processing.
type Watcher struct {
	IncomingDir string
	ReportsDir  string

	// Rescan bounds how stale the view can get when filesystem events are
	// missed. Zero disables the periodic pass, which only tests want.
	Rescan time.Duration

	Importer  Importer
	Generator *reconcile.Generator
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	LineLog   *logging.LineLog
}

// Run watches the incoming directory until the context is cancelled.
// Filesystem events and the rescan ticker both funnel into the same
// serialized scan, so a burst of events cannot process a batch twice.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.IncomingDir, 0o755); err != nil {
		return fmt.Errorf("creating incoming directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.IncomingDir); err != nil {
		return fmt.Errorf("watching %s: %w", w.IncomingDir, err)
	}
	// Batch directories that already exist get watched too, so marker
	// writes inside them are seen.
	if entries, err := os.ReadDir(w.IncomingDir); err == nil {
		for _, e := range entries {
			if e.IsDir() && batch.IsID(e.Name()) {
				_ = fw.Add(filepath.Join(w.IncomingDir, e.Name()))
			}
		}
	}

	var tick <-chan time.Time
	if w.Rescan > 0 {
		ticker := time.NewTicker(w.Rescan)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.Logger.Info("watching for incoming batches", "dir", w.IncomingDir)
	w.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("filesystem watcher closed")
			}
			if event.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && batch.IsID(filepath.Base(event.Name)) {
					_ = fw.Add(event.Name)
				}
			}
			// Only marker arrivals make a batch eligible; anything else is
			// mid-transfer noise.
			if filepath.Base(event.Name) != batch.MarkerName {
				continue
			}
			w.ScanOnce(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("filesystem watcher closed")
			}
			w.Logger.Warn("filesystem watcher error", "error", err)

		case <-tick:
			w.ScanOnce(ctx)
		}
	}
}

// ScanOnce drains the incoming directory: eligible batches are processed
// oldest first until none remain. Failures sideline the affected batch and
// the drain continues with the next one.
func (w *Watcher) ScanOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		dir, err := batch.OldestEligible(w.IncomingDir, w.ReportsDir)
		if err != nil {
			w.Logger.Error("failed to scan incoming directory", "error", err)
			return
		}
		if dir == "" {
			w.updatePending()
			return
		}

		if err := w.process(ctx, dir); err != nil {
			w.Logger.Error("batch processing failed", "batch", filepath.Base(dir), "error", err)
		}
	}
}

// process runs one batch through validation, import, and reconciliation.
func (w *Watcher) process(ctx context.Context, dir string) error {
	id := filepath.Base(dir)
	logger := w.Logger.With("batch", id)
	logger.Info("processing batch", "dir", dir)

	// Ordering contract: the marker is written after the manifest. A marker
	// without a manifest means the other side is broken; sideline the batch
	// rather than guess.
	manifestPath := filepath.Join(dir, batch.TransferManifestName)
	if _, err := os.Stat(manifestPath); err != nil {
		perr := &manifest.ProtocolError{BatchID: id, Reason: "ready marker present without transfer manifest"}
		w.sideline(dir, perr, logger)
		return perr
	}
	if _, err := manifest.ReadTransfer(manifestPath); err != nil {
		w.sideline(dir, err, logger)
		return fmt.Errorf("invalid transfer manifest: %w", err)
	}

	w.logLine("batch %s import started", id)
	if err := w.Importer.Import(ctx, dir); err != nil {
		w.sideline(dir, err, logger)
		w.logLine("batch %s import failed: %v", id, err)
		return err
	}

	res, err := w.Generator.Run(dir)
	if err != nil {
		var perr *manifest.ProtocolError
		if errors.As(err, &perr) {
			w.sideline(dir, err, logger)
		}
		w.logLine("batch %s reconciliation failed: %v", id, err)
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	w.Metrics.IncImported()
	w.Metrics.AddWarnings(len(res.Completion.Warnings))
	w.logLine("batch %s imported: %d files, %d warnings", id, res.Completion.Count, len(res.Completion.Warnings))
	logger.Info("batch imported", "files", res.Completion.Count, "warnings", len(res.Completion.Warnings))
	return nil
}

// sideline marks a batch failed on disk so the drain loop stops selecting
// it. The files stay where they are for operator inspection.
func (w *Watcher) sideline(dir string, cause error, logger *slog.Logger) {
	logger.Error("sidelining batch", "error", cause)
	w.Metrics.IncFailed()
	if err := batch.WriteFailedMarker(dir); err != nil {
		logger.Error("failed to write failed marker", "error", err)
	}
}

// updatePending refreshes the pending-batches gauge after a drain.
func (w *Watcher) updatePending() {
	entries, err := os.ReadDir(w.IncomingDir)
	if err != nil {
		return
	}
	pending := 0
	for _, e := range entries {
		if !e.IsDir() || !batch.IsID(e.Name()) {
			continue
		}
		dir := filepath.Join(w.IncomingDir, e.Name())
		if batch.HasFailedMarker(dir) || batch.CompletionExists(w.ReportsDir, e.Name()) {
			continue
		}
		pending++
	}
	w.Metrics.SetPending(pending)
}

func (w *Watcher) logLine(format string, args ...any) {
	if w.LineLog == nil {
		return
	}
	if err := w.LineLog.Append(format, args...); err != nil {
		w.Logger.Warn("failed to append to import log", "error", err)
	}
}
