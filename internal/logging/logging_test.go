package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLineLogAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "import.log")
	l := NewLineLog(path)

	if err := l.Append("batch %s staged", "20260801_143005"); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := l.Append("batch %s transferred", "20260801_143005"); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[0], "batch 20260801_143005 staged") {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	// Every line carries a timestamp prefix.
	if len(lines[1]) < len("2006-01-02 15:04:05 ") {
		t.Errorf("line missing timestamp: %q", lines[1])
	}
}

func TestLineLogTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.log")
	l := NewLineLog(path)

	for i := 0; i < 5; i++ {
		if err := l.Append("line %d", i); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Truncate("cleaned after batch 20260801_143005"); err != nil {
		t.Fatalf("Truncate error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines after truncate, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "cleaned after batch") {
		t.Errorf("unexpected note: %q", lines[0])
	}
}

func TestRunID(t *testing.T) {
	a, b := RunID(), RunID()
	if a == "" || a == b {
		t.Errorf("run ids not unique: %q %q", a, b)
	}
}
