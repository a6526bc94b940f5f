package reconcile

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photopipe/internal/batch"
	"photopipe/internal/manifest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newBatchDir lays out an incoming batch directory with media files and an
// optional transfer manifest.
func newBatchDir(t *testing.T, root, id string, files []string, tm *manifest.Transfer) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if tm != nil {
		if err := manifest.WriteAtomic(filepath.Join(dir, batch.TransferManifestName), tm); err != nil {
			t.Fatal(err)
		}
	}
	if err := batch.WriteMarker(dir); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newGenerator(t *testing.T) (*Generator, string) {
	t.Helper()
	root := t.TempDir()
	g := &Generator{
		ReportsDir:   filepath.Join(root, "reports"),
		ProcessedDir: filepath.Join(root, "processed"),
		Home:         root,
		Logger:       testLogger(),
	}
	return g, root
}

func TestRunExactMatch(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"
	incoming := filepath.Join(root, "incoming")

	dir := newBatchDir(t, incoming, id, []string{"a.jpg", "b.jpg"}, &manifest.Transfer{
		BatchID: id,
		Files: []manifest.TransferEntry{
			{RemotePath: filepath.Join(incoming, id, "a.jpg"), OriginalPath: "/photos/2026/a.jpg"},
			{RemotePath: filepath.Join(incoming, id, "b.jpg"), OriginalPath: "/photos/2026/b.jpg"},
		},
	})

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	c := res.Completion
	if c.Count != 2 || len(c.Files) != 2 {
		t.Fatalf("count = %d, files = %d", c.Count, len(c.Files))
	}
	if c.Files[0].OriginalPath != "/photos/2026/a.jpg" || c.Files[0].Warning != "" {
		t.Errorf("record 0 = %+v", c.Files[0])
	}
	if len(c.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", c.Warnings)
	}
	if c.Files[0].ImportTime == "" {
		t.Error("import_time not recorded")
	}

	// Files landed in the processed store and the batch directory is gone.
	if _, err := os.Stat(filepath.Join(g.ProcessedDir, id, "a.jpg")); err != nil {
		t.Errorf("a.jpg not in processed store: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("batch directory still present: %v", err)
	}
	if !res.MovedAll {
		t.Error("MovedAll = false")
	}
}

func TestRunTildeExpansion(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"
	incoming := filepath.Join(root, "incoming")

	dir := newBatchDir(t, incoming, id, []string{"a.jpg"}, &manifest.Transfer{
		Files: []manifest.TransferEntry{
			{RemotePath: "~/incoming/" + id + "/a.jpg", OriginalPath: "/photos/a.jpg"},
		},
	})

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Completion.Files[0].OriginalPath != "/photos/a.jpg" {
		t.Errorf("tilde path not matched exactly: %+v", res.Completion.Files[0])
	}
	if res.Completion.Files[0].Warning != "" {
		t.Errorf("unexpected warning: %q", res.Completion.Files[0].Warning)
	}
}

func TestRunBasenameFallback(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"

	// Manifest paths point somewhere else entirely, so only the basename
	// can match.
	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, []string{"a.jpg"}, &manifest.Transfer{
		Files: []manifest.TransferEntry{
			{RemotePath: "/elsewhere/a.jpg", OriginalPath: "/photos/a.jpg"},
		},
	})

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	rec := res.Completion.Files[0]
	if rec.OriginalPath != "/photos/a.jpg" {
		t.Errorf("OriginalPath = %q", rec.OriginalPath)
	}
	// A single-candidate basename hit is a clean resolution, not a warning.
	if rec.Warning != "" {
		t.Errorf("unexpected warning: %q", rec.Warning)
	}
	if len(res.Completion.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Completion.Warnings)
	}
}

func TestRunAmbiguousBasenameUsesFirstCandidate(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"

	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, []string{"a.jpg"}, &manifest.Transfer{
		Files: []manifest.TransferEntry{
			{RemotePath: "/x/a.jpg", OriginalPath: "/photos/first/a.jpg"},
			{RemotePath: "/y/a.jpg", OriginalPath: "/photos/second/a.jpg"},
		},
	})

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	rec := res.Completion.Files[0]
	if rec.OriginalPath != "/photos/first/a.jpg" {
		t.Errorf("OriginalPath = %q, want first candidate", rec.OriginalPath)
	}
	if !strings.Contains(rec.Warning, "ambiguous") {
		t.Errorf("expected ambiguity warning, got %q", rec.Warning)
	}
}

func TestRunUnknownFileSelfMaps(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"

	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, []string{"a.jpg", "stray.png"}, &manifest.Transfer{
		Files: []manifest.TransferEntry{
			{RemotePath: filepath.Join(root, "incoming", id, "a.jpg"), OriginalPath: "/photos/a.jpg"},
		},
	})

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Completion.Count != 2 {
		t.Fatalf("count = %d, want every present file reported", res.Completion.Count)
	}
	var stray *manifest.FileRecord
	for i := range res.Completion.Files {
		if res.Completion.Files[i].Filename == "stray.png" {
			stray = &res.Completion.Files[i]
		}
	}
	if stray == nil {
		t.Fatal("stray file missing from completion manifest")
	}
	if stray.OriginalPath != filepath.Join(dir, "stray.png") {
		t.Errorf("stray OriginalPath = %q", stray.OriginalPath)
	}
	if stray.Warning == "" {
		t.Error("stray file mapped without a warning")
	}
}

func TestRunIdempotent(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"

	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, []string{"a.jpg"}, &manifest.Transfer{
		Files: []manifest.TransferEntry{
			{RemotePath: filepath.Join(root, "incoming", id, "a.jpg"), OriginalPath: "/photos/a.jpg"},
		},
	})

	existing := &manifest.Completion{BatchID: id, Timestamp: "2026-08-01T15:00:00Z", Count: 1,
		Files: []manifest.FileRecord{{Filename: "a.jpg", OriginalPath: "/old", ImportTime: "2026-08-01T15:00:00Z"}}}
	if err := manifest.WriteAtomic(batch.CompletionPath(g.ReportsDir, id), existing); err != nil {
		t.Fatal(err)
	}

	res, err := g.Run(dir)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !res.AlreadyDone {
		t.Error("AlreadyDone = false for pre-existing completion manifest")
	}
	if res.Completion.Files[0].OriginalPath != "/old" {
		t.Error("pre-existing manifest was overwritten")
	}
	// Nothing moved.
	if _, err := os.Stat(filepath.Join(dir, "a.jpg")); err != nil {
		t.Errorf("batch file was touched: %v", err)
	}
}

func TestRunEmptyBatchFails(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"
	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, nil, &manifest.Transfer{
		Files: []manifest.TransferEntry{{RemotePath: "/x/a.jpg", OriginalPath: "/a.jpg"}},
	})

	if _, err := g.Run(dir); err == nil {
		t.Error("batch with no media files accepted")
	}
}

func TestRunMissingManifestIsProtocolError(t *testing.T) {
	g, root := newGenerator(t)
	const id = "20260801_143005"
	dir := newBatchDir(t, filepath.Join(root, "incoming"), id, []string{"a.jpg"}, nil)

	_, err := g.Run(dir)
	var perr *manifest.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
	if perr.BatchID != id {
		t.Errorf("BatchID = %q", perr.BatchID)
	}
}

func TestRunRejectsNonBatchDir(t *testing.T) {
	g, root := newGenerator(t)
	dir := filepath.Join(root, "not-a-batch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Run(dir); err == nil {
		t.Error("non-batch directory accepted")
	}
}
