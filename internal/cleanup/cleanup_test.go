package cleanup

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"photopipe/internal/batch"
	"photopipe/internal/config"
	"photopipe/internal/manifest"
	"photopipe/internal/transfer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSweeper(t *testing.T, policy config.CleanupConfig) (*Sweeper, string) {
	t.Helper()
	root := t.TempDir()
	s := &Sweeper{
		IncomingDir:  filepath.Join(root, "incoming"),
		ProcessedDir: filepath.Join(root, "processed"),
		ReportsDir:   filepath.Join(root, "reports"),
		ArchiveDir:   filepath.Join(root, "archive"),
		Policy:       policy,
		Logger:       testLogger(),
	}
	return s, root
}

func writeCompletion(t *testing.T, reportsDir, id string) {
	t.Helper()
	c := &manifest.Completion{BatchID: id, Timestamp: "2026-08-01T10:05:00Z", Count: 1,
		Files: []manifest.FileRecord{{Filename: "a.jpg", OriginalPath: "/p/a.jpg", ImportTime: "2026-08-01T10:05:00Z"}}}
	if err := manifest.WriteAtomic(batch.CompletionPath(reportsDir, id), c); err != nil {
		t.Fatal(err)
	}
}

func mkBatchDir(t *testing.T, parent, id string) string {
	t.Helper()
	dir := filepath.Join(parent, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// ageDir backdates every mtime in dir, the directory itself last.
func ageDir(t *testing.T, dir string, when time.Time) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := os.Chtimes(filepath.Join(dir, e.Name()), when, when); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chtimes(dir, when, when); err != nil {
		t.Fatal(err)
	}
}

func TestSweepPurgesCompletedImmediately(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{KeepSuccessfulDays: 0, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.ProcessedDir, id)
	writeCompletion(t, s.ReportsDir, id)

	report, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if report.PurgedProcessed != 1 {
		t.Errorf("PurgedProcessed = %d, want 1", report.PurgedProcessed)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("completed batch not purged with zero-day retention")
	}
	// The completion manifest itself is retained.
	if !batch.CompletionExists(s.ReportsDir, id) {
		t.Error("completion manifest removed by sweep")
	}
}

func TestSweepKeepsCompletedWithinWindow(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{KeepSuccessfulDays: 7, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.ProcessedDir, id)
	writeCompletion(t, s.ReportsDir, id)

	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("batch inside retention window was purged")
	}

	// Same batch, viewed eight days later.
	s.Now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedProcessed != 1 {
		t.Errorf("PurgedProcessed = %d after window elapsed", report.PurgedProcessed)
	}
}

func TestSweepUsesFailedWindowWithoutCompletion(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{KeepSuccessfulDays: 0, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.ProcessedDir, id)

	// No completion manifest: failed retention applies, so a fresh batch
	// survives even with zero-day success retention.
	s.Now = func() time.Time { t, _ := batch.IDTime(id); return t.Add(time.Hour) }
	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("failed batch purged before keep_failed_days")
	}

	s.Now = func() time.Time { t, _ := batch.IDTime(id); return t.Add(8 * 24 * time.Hour) }
	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("failed batch not purged after keep_failed_days")
	}
}

func TestSweepArchivesBeforePurge(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{KeepSuccessfulDays: 0, KeepFailedDays: 7, ArchiveBeforePurge: true})
	const id = "20260801_100000"
	mkBatchDir(t, s.ProcessedDir, id)
	writeCompletion(t, s.ReportsDir, id)

	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.Archived != 1 || report.PurgedProcessed != 1 {
		t.Errorf("report = %+v, want one archive and one purge", report)
	}
	if _, err := os.Stat(filepath.Join(s.ArchiveDir, id+".tar.zst")); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestSweepIncomingAbandoned(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{CleanIncomingAfterHours: 1, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.IncomingDir, id)

	// Fresh and unmarked: mid-transfer, left alone.
	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("mid-transfer batch purged")
	}

	// Two hours later with no new writes: abandoned.
	s.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedIncoming != 1 {
		t.Errorf("PurgedIncoming = %d, want 1", report.PurgedIncoming)
	}
}

func TestSweepIncomingKeepsQueuedBatch(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{CleanIncomingAfterHours: 1, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.IncomingDir, id)
	if err := batch.WriteMarker(dir); err != nil {
		t.Fatal(err)
	}

	// Ready and fresh: queued for the watcher, left alone.
	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("queued batch purged")
	}

	// Once completed, leftovers are removed.
	writeCompletion(t, s.ReportsDir, id)
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedIncoming != 1 {
		t.Errorf("completed leftovers not purged: %+v", report)
	}
}

func TestSweepIncomingAbandonedOldMtimes(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{CleanIncomingAfterHours: 1, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.IncomingDir, id)
	ageDir(t, dir, time.Now().Add(-72*time.Hour))

	// No marker and no write in three days: abandoned, gone on a plain
	// sweep without any clock override.
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedIncoming != 1 {
		t.Errorf("PurgedIncoming = %d, want 1", report.PurgedIncoming)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("abandoned batch still present")
	}
}

func TestSweepIncomingForceCleansStalledReadyBatch(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{CleanIncomingAfterHours: 1, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.IncomingDir, id)
	if err := batch.WriteMarker(dir); err != nil {
		t.Fatal(err)
	}
	ageDir(t, dir, time.Now().Add(-72*time.Hour))

	// Ready marker, no completion manifest, no progress past the orphan
	// threshold: the watcher died on it, so the sweep recovers the slot.
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedIncoming != 1 {
		t.Errorf("PurgedIncoming = %d, want 1", report.PurgedIncoming)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("stalled ready batch still present")
	}
}

func TestSweepIncomingSidelined(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{CleanIncomingAfterHours: 1, KeepFailedDays: 7})
	const id = "20260801_100000"
	dir := mkBatchDir(t, s.IncomingDir, id)
	if err := batch.WriteMarker(dir); err != nil {
		t.Fatal(err)
	}
	if err := batch.WriteFailedMarker(dir); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("sidelined batch purged inside retention window")
	}

	s.Now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	report, err := s.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if report.PurgedIncoming != 1 {
		t.Errorf("sidelined batch not purged after retention: %+v", report)
	}
}

func TestSweepMissingDirsQuiet(t *testing.T) {
	s, _ := newSweeper(t, config.CleanupConfig{})
	if _, err := s.Sweep(); err != nil {
		t.Errorf("Sweep with missing directories: %v", err)
	}
}

func TestSourceCleanerStaging(t *testing.T) {
	root := t.TempDir()
	c := &SourceCleaner{
		StagingDir: filepath.Join(root, "staging"),
		Policy:     config.CleanupConfig{KeepFailedDays: 7},
		Logger:     testLogger(),
	}

	const id = "20260801_100000"
	mkBatchDir(t, c.StagingDir, id)

	if err := c.RemoveStagedBatch(id); err != nil {
		t.Fatalf("RemoveStagedBatch error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.StagingDir, id)); !os.IsNotExist(err) {
		t.Error("staging directory still present")
	}

	if err := c.RemoveStagedBatch("../evil"); err == nil {
		t.Error("non-batch id accepted for removal")
	}
}

func TestSourceCleanerSweepStaging(t *testing.T) {
	root := t.TempDir()
	c := &SourceCleaner{
		StagingDir: filepath.Join(root, "staging"),
		Policy:     config.CleanupConfig{KeepFailedDays: 7},
		Logger:     testLogger(),
	}

	const id = "20260801_100000"
	mkBatchDir(t, c.StagingDir, id)

	c.Now = func() time.Time { t, _ := batch.IDTime(id); return t.Add(time.Hour) }
	if n, err := c.SweepStaging(); err != nil || n != 0 {
		t.Errorf("fresh staging swept: n=%d err=%v", n, err)
	}

	c.Now = func() time.Time { t, _ := batch.IDTime(id); return t.Add(8 * 24 * time.Hour) }
	n, err := c.SweepStaging()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("stale staging not swept, n=%d", n)
	}
}

func TestSweepRemoteOrphans(t *testing.T) {
	remote := transfer.NewMemRemote("/home/importer")
	incoming := "/home/importer/IncomingPhotos"

	// Orphan: no marker, idle since long ago (zero mtimes).
	if err := remote.MkdirAll(path.Join(incoming, "20260801_100000")); err != nil {
		t.Fatal(err)
	}
	if err := remote.WriteFile(path.Join(incoming, "20260801_100000", "a.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	remote.SetMtime(path.Join(incoming, "20260801_100000"), time.Now().Add(-3*time.Hour))
	remote.SetMtime(path.Join(incoming, "20260801_100000", "a.jpg"), time.Now().Add(-3*time.Hour))

	// Ready batch: has marker, must be left alone.
	if err := remote.MkdirAll(path.Join(incoming, "20260801_110000")); err != nil {
		t.Fatal(err)
	}
	if err := remote.Touch(path.Join(incoming, "20260801_110000", batch.MarkerName)); err != nil {
		t.Fatal(err)
	}
	remote.SetMtime(path.Join(incoming, "20260801_110000"), time.Now().Add(-3*time.Hour))

	// Active transfer: recent writes.
	if err := remote.MkdirAll(path.Join(incoming, "20260801_120000")); err != nil {
		t.Fatal(err)
	}
	if err := remote.WriteFile(path.Join(incoming, "20260801_120000", "b.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	remote.SetMtime(path.Join(incoming, "20260801_120000"), time.Now())

	c := &SourceCleaner{
		RemoteIncoming: incoming,
		Policy:         config.CleanupConfig{CleanIncomingAfterHours: 1},
		Logger:         testLogger(),
	}

	n, err := c.SweepRemoteOrphans(remote)
	if err != nil {
		t.Fatalf("SweepRemoteOrphans error: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d orphans, want 1", n)
	}
	if remote.Exists(path.Join(incoming, "20260801_100000")) {
		t.Error("orphan still present")
	}
	if !remote.Exists(path.Join(incoming, "20260801_110000")) {
		t.Error("ready batch removed")
	}
	if !remote.Exists(path.Join(incoming, "20260801_120000", "b.jpg")) {
		t.Error("active transfer removed")
	}
}
