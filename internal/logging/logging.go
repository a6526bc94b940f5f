package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Setup builds the process logger from the CLI flags. Level and format
// mirror the persistent flags on the root command.
func Setup(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// RunID returns a correlation id attached to a pipeline run's log lines.
func RunID() string {
	return uuid.NewString()
}

// LineLog is the append-only human-readable pipeline log. It is a separate
// artifact from process logging: one timestamped line per event, readable
// without tooling, optionally truncated after each batch.
type LineLog struct {
	mu   sync.Mutex
	path string
}

// NewLineLog returns a line log writing to path. The file is created on
// first append.
func NewLineLog(path string) *LineLog {
	return &LineLog{path: path}
}

// Path returns the log file location.
func (l *LineLog) Path() string {
	return l.path
}

// Append writes one timestamped line.
func (l *LineLog) Append(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s\n", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending log line: %w", err)
	}
	return nil
}

// Truncate replaces the log contents with a single timestamped note,
// used after a successful batch when clean_import_log is enabled.
func (l *LineLog) Truncate(note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	line := fmt.Sprintf("%s %s\n", time.Now().Format("2006-01-02 15:04:05"), note)
	if err := os.WriteFile(l.path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("truncating log: %w", err)
	}
	return nil
}
