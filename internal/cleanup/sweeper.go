// Package cleanup applies the retention policy on both sides of the
// pipeline: on the destination it purges processed batches past their
// retention window and clears abandoned transfers from the incoming
// directory, and on the source it removes staging leftovers and remote
// orphans before a new send.
package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"photopipe/internal/batch"
	"photopipe/internal/config"
	"photopipe/internal/safety"
)

// Sweeper applies the destination-side retention policy.
type Sweeper struct {
	IncomingDir  string
	ProcessedDir string
	ReportsDir   string
	ArchiveDir   string
	Policy       config.CleanupConfig
	Logger       *slog.Logger

	// Now is replaceable for tests. Nil means time.Now.
	Now func() time.Time
}

// SweepReport counts what one pass removed.
type SweepReport struct {
	PurgedProcessed int
	PurgedIncoming  int
	Archived        int
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sweep runs one full retention pass. Errors on individual batches are
// logged and do not stop the sweep.
func (s *Sweeper) Sweep() (*SweepReport, error) {
	report := &SweepReport{}
	if err := s.sweepProcessed(report); err != nil {
		return report, err
	}
	if err := s.sweepIncoming(report); err != nil {
		return report, err
	}
	return report, nil
}

// sweepProcessed purges processed batches past their retention window.
// A batch with a completion manifest is successful and uses
// keep_successful_days; one without is treated as failed debris and uses
// keep_failed_days.
func (s *Sweeper) sweepProcessed(report *SweepReport) error {
	entries, err := os.ReadDir(s.ProcessedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading processed directory: %w", err)
	}

	now := s.now()
	for _, e := range entries {
		if !e.IsDir() || !batch.IsID(e.Name()) {
			continue
		}
		id := e.Name()

		dir, err := safety.EnsureUnderRoot(s.ProcessedDir, filepath.Join(s.ProcessedDir, id))
		if err != nil {
			s.Logger.Error("refusing to sweep suspicious path", "path", id, "error", err)
			continue
		}

		keepDays := s.Policy.KeepFailedDays
		completed := batch.CompletionExists(s.ReportsDir, id)
		if completed {
			keepDays = s.Policy.KeepSuccessfulDays
		}

		age := s.batchAge(dir, id, now)
		if age < time.Duration(keepDays)*24*time.Hour {
			continue
		}

		if s.Policy.ArchiveBeforePurge && completed {
			archivePath, err := archiveBatch(dir, s.ArchiveDir)
			if err != nil {
				s.Logger.Error("failed to archive batch before purge", "batch", id, "error", err)
				continue
			}
			report.Archived++
			s.Logger.Info("batch archived", "batch", id, "archive", archivePath)
		}

		if err := os.RemoveAll(dir); err != nil {
			s.Logger.Error("failed to purge processed batch", "batch", id, "error", err)
			continue
		}
		report.PurgedProcessed++
		s.Logger.Info("processed batch purged", "batch", id, "age", age.Round(time.Hour))
	}
	return nil
}

// sweepIncoming clears abandoned transfers: batch directories without a
// ready marker whose last write is older than clean_incoming_after_hours,
// ready batches stalled past that same threshold with no completion
// manifest (a crashed watcher or importer), and sidelined batches past
// the failed retention window.
func (s *Sweeper) sweepIncoming(report *SweepReport) error {
	entries, err := os.ReadDir(s.IncomingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading incoming directory: %w", err)
	}

	now := s.now()
	abandonAfter := time.Duration(s.Policy.CleanIncomingAfterHours) * time.Hour
	failedAfter := time.Duration(s.Policy.KeepFailedDays) * 24 * time.Hour

	for _, e := range entries {
		if !e.IsDir() || !batch.IsID(e.Name()) {
			continue
		}
		id := e.Name()
		dir, err := safety.EnsureUnderRoot(s.IncomingDir, filepath.Join(s.IncomingDir, id))
		if err != nil {
			s.Logger.Error("refusing to sweep suspicious path", "path", id, "error", err)
			continue
		}

		var purge bool
		var reason string
		switch {
		case batch.HasFailedMarker(dir):
			if s.latestWrite(dir, id).Add(failedAfter).Before(now) {
				purge, reason = true, "sidelined past retention"
			}
		case batch.HasMarker(dir):
			// Marked ready and still here: queued, completed with
			// leftovers, or stuck behind a dead watcher. Completed
			// leftovers go right away; a stalled batch is force-cleaned
			// once it ages past the orphan threshold.
			switch {
			case batch.CompletionExists(s.ReportsDir, id):
				purge, reason = true, "completed leftovers"
			case s.latestWrite(dir, id).Add(abandonAfter).Before(now):
				purge, reason = true, "stalled past orphan threshold"
			}
		default:
			// Mid-transfer or abandoned. The last write tells which.
			if s.latestWrite(dir, id).Add(abandonAfter).Before(now) {
				purge, reason = true, "abandoned transfer"
			}
		}

		if !purge {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.Logger.Error("failed to purge incoming batch", "batch", id, "error", err)
			continue
		}
		report.PurgedIncoming++
		s.Logger.Info("incoming batch purged", "batch", id, "reason", reason)
	}
	return nil
}

// batchAge derives a processed batch's age from its completion manifest
// mtime, falling back to the timestamp in the id.
func (s *Sweeper) batchAge(dir, id string, now time.Time) time.Duration {
	if fi, err := os.Stat(batch.CompletionPath(s.ReportsDir, id)); err == nil {
		return now.Sub(fi.ModTime())
	}
	if t, err := batch.IDTime(id); err == nil {
		return now.Sub(t)
	}
	if fi, err := os.Stat(dir); err == nil {
		return now.Sub(fi.ModTime())
	}
	return 0
}

// latestWrite returns the newest mtime within dir, so a transfer that is
// still landing files is never mistaken for abandoned. An unreadable
// directory falls back to the timestamp encoded in the batch id.
func (s *Sweeper) latestWrite(dir, id string) time.Time {
	var latest time.Time
	if fi, err := os.Stat(dir); err == nil {
		latest = fi.ModTime()
	}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if fi, err := e.Info(); err == nil && fi.ModTime().After(latest) {
				latest = fi.ModTime()
			}
		}
	}
	if latest.IsZero() {
		if t, err := batch.IDTime(id); err == nil {
			latest = t
		}
	}
	return latest
}
