// Package reconcile produces completion manifests on the destination: after
// a batch is imported, each file in the batch directory is mapped back to
// its original source path using the transfer manifest, and the result is
// written to the reports store exactly once per batch.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"photopipe/internal/batch"
	"photopipe/internal/manifest"
	"photopipe/internal/safety"
)

// Generator reconciles imported batches. Zero-value fields fall back to
// the current user's home for path expansion.
type Generator struct {
	ReportsDir   string
	ProcessedDir string

	// Home resolves "~" prefixes in manifest remote paths. Empty means the
	// current user's home directory.
	Home string

	Logger *slog.Logger
}

// Result summarizes one reconciliation run.
type Result struct {
	Completion   *manifest.Completion
	ManifestPath string

	// AlreadyDone is set when a completion manifest existed before this
	// run; nothing was touched.
	AlreadyDone bool

	// MovedAll reports whether every file left the batch directory.
	MovedAll bool
}

// Run reconciles the batch directory at dir. It is idempotent: a batch
// whose completion manifest already exists is returned as-is without
// rescanning or moving anything.
func (g *Generator) Run(dir string) (*Result, error) {
	id := filepath.Base(dir)
	if !batch.IsID(id) {
		return nil, fmt.Errorf("not a batch directory: %s", dir)
	}
	logger := g.Logger.With("batch", id)

	outPath := batch.CompletionPath(g.ReportsDir, id)
	if batch.CompletionExists(g.ReportsDir, id) {
		logger.Info("completion manifest already present, skipping")
		existing, err := manifest.ReadCompletion(outPath)
		if err != nil {
			return nil, fmt.Errorf("reading existing completion manifest: %w", err)
		}
		return &Result{Completion: existing, ManifestPath: outPath, AlreadyDone: true}, nil
	}

	files, err := batch.MediaFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("batch %s has no media files to reconcile", id)
	}

	tm, err := manifest.ReadTransfer(filepath.Join(dir, batch.TransferManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &manifest.ProtocolError{BatchID: id, Reason: "transfer manifest missing"}
		}
		return nil, err
	}

	home := g.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	completion := g.reconcile(id, files, tm, home, logger)
	if err := manifest.WriteAtomic(outPath, completion); err != nil {
		return nil, fmt.Errorf("writing completion manifest: %w", err)
	}
	logger.Info("completion manifest written",
		"path", outPath, "files", completion.Count, "warnings", len(completion.Warnings))

	movedAll := g.moveToProcessed(id, dir, files, logger)
	return &Result{Completion: completion, ManifestPath: outPath, MovedAll: movedAll}, nil
}

// reconcile maps every present file to an original path. Matching is
// exact path first, then basename, then a self-mapping so that no file is
// ever dropped from the report.
func (g *Generator) reconcile(id string, files []string, tm *manifest.Transfer, home string, logger *slog.Logger) *manifest.Completion {
	// Exact map keys are the manifest remote paths with "~" expanded to the
	// local home, which is what the staged files' absolute paths look like
	// on this side.
	exact := make(map[string]string, len(tm.Files))
	byBase := make(map[string]string, len(tm.Files))
	ambiguous := make(map[string]bool)
	for _, entry := range tm.Files {
		expanded := safety.ExpandHome(entry.RemotePath, home)
		exact[filepath.Clean(expanded)] = entry.OriginalPath

		base := path.Base(entry.RemotePath)
		if _, seen := byBase[base]; seen {
			// Keep the first candidate; later duplicates make it ambiguous.
			ambiguous[base] = true
			continue
		}
		byBase[base] = entry.OriginalPath
	}

	completion := &manifest.Completion{
		BatchID:   id,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	for _, file := range files {
		name := filepath.Base(file)
		record := manifest.FileRecord{Filename: name}

		if fi, err := os.Stat(file); err == nil {
			record.ImportTime = fi.ModTime().Format(time.RFC3339)
		} else {
			record.ImportTime = time.Now().Format(time.RFC3339)
		}

		switch {
		case exact[filepath.Clean(file)] != "":
			record.OriginalPath = exact[filepath.Clean(file)]
		case byBase[name] != "":
			// A unique basename hit is a clean resolution; only an
			// ambiguous one is worth flagging.
			record.OriginalPath = byBase[name]
			if ambiguous[name] {
				record.Warning = fmt.Sprintf("ambiguous basename %s, used first manifest candidate", name)
			}
		default:
			record.OriginalPath = file
			record.Warning = fmt.Sprintf("no manifest entry for %s, recorded current path", name)
		}

		if record.Warning != "" {
			logger.Warn("reconciliation fallback", "file", name, "warning", record.Warning)
			completion.Warnings = append(completion.Warnings, record.Warning)
		}
		completion.Files = append(completion.Files, record)
	}

	completion.Count = len(completion.Files)
	return completion
}

// moveToProcessed relocates reconciled files into the processed store and
// clears the batch directory. Per-file failures are logged and leave the
// file behind; the completion manifest already on disk is not revisited.
func (g *Generator) moveToProcessed(id, dir string, files []string, logger *slog.Logger) bool {
	destDir := filepath.Join(g.ProcessedDir, id)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		logger.Error("failed to create processed directory", "path", destDir, "error", err)
		return false
	}

	movedAll := true
	for _, file := range files {
		dest := filepath.Join(destDir, filepath.Base(file))
		if err := os.Rename(file, dest); err != nil {
			logger.Error("failed to move file to processed store", "file", file, "error", err)
			movedAll = false
		}
	}

	// Bookkeeping files go with the batch.
	for _, name := range []string{batch.TransferManifestName, batch.StagedManifestName, batch.MarkerName} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Rename(p, filepath.Join(destDir, name)); err != nil {
			logger.Warn("failed to move bookkeeping file", "file", p, "error", err)
			movedAll = false
		}
	}

	if err := os.Remove(dir); err != nil {
		// Leftovers keep the directory alive for a later sweep.
		logger.Warn("batch directory not empty after reconciliation", "dir", dir, "error", err)
		return false
	}
	return movedAll
}
