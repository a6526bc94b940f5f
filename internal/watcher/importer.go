package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Importer hands a ready batch directory to the photo import step.
type Importer interface {
	Import(ctx context.Context, batchDir string) error
}

// CommandImporter shells out to a configured import command with the batch
// directory appended as the final argument. A zero exit status is the
// completion signal.
type CommandImporter struct {
	Command []string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *CommandImporter) Import(ctx context.Context, batchDir string) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("no import command configured")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Command[1:]...), batchDir)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("import command failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	c.Logger.Info("import command completed",
		"dir", batchDir, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
