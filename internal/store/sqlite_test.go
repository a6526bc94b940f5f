package store

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	store := newTestStore(t)
	if store.db == nil {
		t.Error("Expected db to be initialized")
	}
}

func TestBatchLifecycle(t *testing.T) {
	store := newTestStore(t)

	b := &Batch{
		BatchID:    "20260801_143005",
		Status:     BatchStatusStaged,
		FileCount:  3,
		StagingDir: "/tmp/staging/20260801_143005",
	}
	if err := store.CreateBatch(b); err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}

	if err := store.SetBatchStatus(b.BatchID, BatchStatusAwaiting, ""); err != nil {
		t.Fatalf("SetBatchStatus() failed: %v", err)
	}

	completedAt := time.Now()
	if err := store.CompleteBatch(b.BatchID, 3, 1, completedAt); err != nil {
		t.Fatalf("CompleteBatch() failed: %v", err)
	}

	got, err := store.GetBatch(b.BatchID)
	if err != nil {
		t.Fatalf("GetBatch() failed: %v", err)
	}
	if got.Status != BatchStatusImported {
		t.Errorf("Status = %q, want %q", got.Status, BatchStatusImported)
	}
	if got.ImportedCount != 3 || got.WarningCount != 1 {
		t.Errorf("counts = %d/%d, want 3/1", got.ImportedCount, got.WarningCount)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not recorded")
	}
}

func TestGetBatchNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetBatch("20990101_000000"); err == nil {
		t.Error("expected error for missing batch")
	}
}

func TestSetBatchStatusNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetBatchStatus("20990101_000000", BatchStatusFailed, "x"); err == nil {
		t.Error("expected error for missing batch")
	}
}

func TestListBatchesOrderAndFilter(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"20260801_090000", "20260801_100000", "20260801_110000"} {
		if err := store.CreateBatch(&Batch{BatchID: id, Status: BatchStatusStaged}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SetBatchStatus("20260801_100000", BatchStatusFailed, "transfer error"); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListBatches("", 0)
	if err != nil {
		t.Fatalf("ListBatches() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d batches, want 3", len(all))
	}
	// Newest first.
	if all[0].BatchID != "20260801_110000" {
		t.Errorf("first batch = %s, want newest", all[0].BatchID)
	}

	failed, err := store.ListBatches(BatchStatusFailed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "transfer error" {
		t.Errorf("failed filter returned %+v", failed)
	}

	limited, err := store.ListBatches("", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d batches", len(limited))
	}
}

func TestCountBatchesByStatus(t *testing.T) {
	store := newTestStore(t)
	for i, id := range []string{"20260801_090000", "20260801_100000"} {
		status := BatchStatusAwaiting
		if i == 1 {
			status = BatchStatusImported
		}
		if err := store.CreateBatch(&Batch{BatchID: id, Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.CountBatchesByStatus(BatchStatusAwaiting)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestBatchFiles(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateBatch(&Batch{BatchID: "20260801_143005", Status: BatchStatusStaged}); err != nil {
		t.Fatal(err)
	}

	files := []BatchFile{
		{BatchID: "20260801_143005", OriginalPath: "/photos/a.jpg", RemotePath: "~/IncomingPhotos/20260801_143005/a.jpg", Status: "staged"},
		{BatchID: "20260801_143005", OriginalPath: "/photos/b.jpg", RemotePath: "~/IncomingPhotos/20260801_143005/b.jpg", Status: "staged"},
	}
	if err := store.AddBatchFiles(files); err != nil {
		t.Fatalf("AddBatchFiles() failed: %v", err)
	}
	if files[0].ID == 0 || files[1].ID == 0 {
		t.Error("expected IDs to be set after insert")
	}

	if err := store.SetFileStatus("20260801_143005", files[0].RemotePath, "transferred", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFileImported("20260801_143005", files[0].RemotePath, "2026-08-01T14:35:00Z"); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListBatchFiles("20260801_143005")
	if err != nil {
		t.Fatalf("ListBatchFiles() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d files, want 2", len(got))
	}
	if got[0].Status != "imported" || got[0].ImportTime != "2026-08-01T14:35:00Z" {
		t.Errorf("file 0 = %+v", got[0])
	}
	if got[1].Status != "staged" {
		t.Errorf("file 1 status = %q", got[1].Status)
	}
}
