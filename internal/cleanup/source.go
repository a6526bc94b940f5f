package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"photopipe/internal/batch"
	"photopipe/internal/config"
	"photopipe/internal/safety"
	"photopipe/internal/transfer"
)

// SourceCleaner tidies the send side: staging directories left behind by
// finished or failed sends, and remote orphans from transfers that died
// before their ready marker.
type SourceCleaner struct {
	StagingDir     string
	RemoteIncoming string // expanded, no "~"
	Policy         config.CleanupConfig
	Logger         *slog.Logger

	Now func() time.Time
}

func (c *SourceCleaner) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RemoveStagedBatch deletes one batch's staging directory after its import
// has been confirmed.
func (c *SourceCleaner) RemoveStagedBatch(id string) error {
	if !batch.IsID(id) {
		return fmt.Errorf("not a batch id: %q", id)
	}
	dir, err := safety.EnsureUnderRoot(c.StagingDir, filepath.Join(c.StagingDir, id))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	c.Logger.Info("staging directory removed", "batch", id)
	return nil
}

// SweepStaging removes staging directories past the failed retention
// window. Successful sends are removed individually at confirmation time;
// anything still here after keep_failed_days is debris.
func (c *SourceCleaner) SweepStaging() (int, error) {
	entries, err := os.ReadDir(c.StagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}

	cutoff := c.now().Add(-time.Duration(c.Policy.KeepFailedDays) * 24 * time.Hour)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !batch.IsID(e.Name()) {
			continue
		}
		created, err := batch.IDTime(e.Name())
		if err != nil || created.After(cutoff) {
			continue
		}
		dir, err := safety.EnsureUnderRoot(c.StagingDir, filepath.Join(c.StagingDir, e.Name()))
		if err != nil {
			c.Logger.Error("refusing to sweep suspicious path", "path", e.Name(), "error", err)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			c.Logger.Error("failed to remove stale staging directory", "batch", e.Name(), "error", err)
			continue
		}
		removed++
		c.Logger.Info("stale staging directory removed", "batch", e.Name())
	}
	return removed, nil
}

// SweepRemoteOrphans removes batch directories in the remote incoming
// store that never got a ready marker and have been idle past
// clean_incoming_after_hours. Runs at send startup so a crashed previous
// transfer cannot accumulate forever.
func (c *SourceCleaner) SweepRemoteOrphans(remote transfer.Remote) (int, error) {
	entries, err := remote.ReadDir(c.RemoteIncoming)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing remote incoming: %w", err)
	}

	idleAfter := time.Duration(c.Policy.CleanIncomingAfterHours) * time.Hour
	now := c.now()
	removed := 0

	for _, e := range entries {
		if !e.IsDir() || !batch.IsID(e.Name()) {
			continue
		}
		dir := path.Join(c.RemoteIncoming, e.Name())

		if _, err := remote.Stat(path.Join(dir, batch.MarkerName)); err == nil {
			// Marked ready; the destination owns it now.
			continue
		}

		latest := e.ModTime()
		if children, err := remote.ReadDir(dir); err == nil {
			for _, child := range children {
				if child.ModTime().After(latest) {
					latest = child.ModTime()
				}
			}
		}
		if now.Sub(latest) < idleAfter {
			continue
		}

		if err := remote.RemoveAll(dir); err != nil {
			c.Logger.Error("failed to remove remote orphan", "batch", e.Name(), "error", err)
			continue
		}
		removed++
		c.Logger.Info("remote orphan removed", "batch", e.Name(), "idle", now.Sub(latest).Round(time.Minute))
	}
	return removed, nil
}
