// Package pipeline is the source-side orchestrator: it stages a set of
// photos into a batch, wakes the destination, transfers the batch over
// SFTP, arms the ready marker, and polls for the completion manifest that
// confirms the import.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"photopipe/internal/batch"
	"photopipe/internal/cleanup"
	"photopipe/internal/config"
	"photopipe/internal/manifest"
	"photopipe/internal/metrics"
	"photopipe/internal/safety"
	"photopipe/internal/store"
	"photopipe/internal/transfer"
	"photopipe/internal/wake"
)

// Pipeline drives batch sends. Dialer and WakeFn are replaceable so tests
// run against an in-memory destination.
type Pipeline struct {
	Config  *config.Config
	Store   *store.Store
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Dialer opens a connection to the destination. Nil means SSH/SFTP
	// per the configuration.
	Dialer func() (transfer.Remote, error)

	// WakeFn broadcasts the wake-on-LAN packet. Nil means the real thing.
	WakeFn func() error

	// Sleep is replaceable for tests. Nil means time.Sleep honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SendReport summarizes one send.
type SendReport struct {
	BatchID    string
	FileCount  int
	Skipped    int
	Bytes      int64
	StagingDir string

	// Completion is set when the destination confirmed the import before
	// the poll window closed.
	Completion *manifest.Completion

	// Pending is set when the transfer succeeded but confirmation did not
	// arrive in time. The batch is NOT failed; a later recheck resolves it.
	Pending bool
}

func (p *Pipeline) dial() (transfer.Remote, error) {
	if p.Dialer != nil {
		return p.Dialer()
	}
	d := p.Config.Destination
	return transfer.Dial(transfer.DialOptions{
		Host:               d.Host,
		Port:               d.Port,
		User:               d.User,
		KeyPath:            safety.ExpandHome(d.KeyPath, ""),
		Timeout:            10 * time.Second,
		ChunkSize:          p.Config.Transfer.ChunkSize,
		KnownHostsPath:     safety.ExpandHome(d.KnownHostsPath, ""),
		AcceptUnknownHosts: d.AcceptUnknownHosts,
	}, p.Logger)
}

func (p *Pipeline) wakeDestination() error {
	if p.WakeFn != nil {
		return p.WakeFn()
	}
	if p.Config.Destination.WakeMAC == "" {
		return nil
	}
	return wake.Send(p.Config.Destination.WakeMAC, p.Config.Destination.WakeBroadcast)
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Send stages paths as a new batch and runs it through the full transfer
// and confirmation flow. Staging is retained on any failure so the batch
// can be retried without touching the originals again.
func (p *Pipeline) Send(ctx context.Context, paths []string) (*SendReport, error) {
	if err := verifySources(paths); err != nil {
		return nil, err
	}

	id := batch.NewID(time.Now())
	logger := p.Logger.With("batch", id)

	stagingDir, staged, err := stageBatch(p.Config.Paths.StagingDir, id, paths)
	if err != nil {
		return nil, err
	}
	logger.Info("batch staged", "dir", stagingDir, "files", len(staged))
	p.Metrics.IncStaged()
	p.logLedgerCreate(id, stagingDir, staged, logger)

	report := &SendReport{BatchID: id, FileCount: len(staged), StagingDir: stagingDir}

	remote, err := p.connect(ctx, logger)
	if err != nil {
		p.failBatch(id, err, logger)
		return report, err
	}
	defer remote.Close()

	remoteIncoming := safety.ExpandRemoteHome(p.Config.Paths.RemoteIncoming, remote.HomeDir())
	remoteReports := safety.ExpandRemoteHome(p.Config.Paths.RemoteReports, remote.HomeDir())
	for _, dir := range []string{remoteIncoming, remoteReports} {
		if err := remote.MkdirAll(dir); err != nil {
			err = fmt.Errorf("preparing remote directory %s: %w", dir, err)
			p.failBatch(id, err, logger)
			return report, err
		}
	}

	if p.Config.Cleanup.StartupCleanup {
		cleaner := &cleanup.SourceCleaner{
			StagingDir:     p.Config.Paths.StagingDir,
			RemoteIncoming: remoteIncoming,
			Policy:         p.Config.Cleanup,
			Logger:         logger,
		}
		if n, err := cleaner.SweepRemoteOrphans(remote); err != nil {
			logger.Warn("remote orphan sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("remote orphans removed", "count", n)
		}
	}

	timeout := p.Config.DynamicTimeout(len(staged))
	transferCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.transferBatch(transferCtx, remote, remoteIncoming, id, staged, report, logger); err != nil {
		p.failBatch(id, err, logger)
		return report, err
	}
	p.Metrics.IncTransferred()
	p.Metrics.AddFiles(report.FileCount)
	p.setStatus(id, store.BatchStatusAwaiting, "", logger)

	completion, err := p.pollCompletion(ctx, remote, remoteReports, id, timeout, logger)
	if err != nil {
		p.failBatch(id, err, logger)
		return report, err
	}
	if completion == nil {
		report.Pending = true
		p.setStatus(id, store.BatchStatusPending, "confirmation not received before timeout", logger)
		logger.Warn("confirmation not received before timeout, batch left pending",
			"timeout", timeout)
		return report, nil
	}

	report.Completion = completion
	p.recordCompletion(id, completion, logger)
	p.afterConfirmation(id, remote, remoteReports, logger)
	return report, nil
}

// connect wakes the destination and dials until it answers or the
// connection window closes. Only connectivity errors are retried.
func (p *Pipeline) connect(ctx context.Context, logger *slog.Logger) (transfer.Remote, error) {
	deadline := time.Now().Add(p.Config.ConnectTimeout())
	attempt := 0
	for {
		attempt++
		if err := p.wakeDestination(); err != nil {
			logger.Warn("wake packet failed", "error", err)
		}
		if attempt == 1 && p.Config.WakeWait() > 0 {
			if err := p.sleep(ctx, p.Config.WakeWait()); err != nil {
				return nil, err
			}
		}

		remote, err := p.dial()
		if err == nil {
			logger.Info("destination connected", "attempts", attempt)
			return remote, nil
		}
		if !errors.Is(err, transfer.ErrConnectivity) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("destination did not come up within %s: %w",
				p.Config.ConnectTimeout(), err)
		}
		logger.Info("destination not up yet, retrying", "attempt", attempt, "error", err)
		if err := p.sleep(ctx, 5*time.Second); err != nil {
			return nil, err
		}
	}
}

// transferBatch uploads the staged files, writes the transfer manifest,
// and arms the ready marker. The marker is written strictly last; nothing
// on the destination acts before it appears.
func (p *Pipeline) transferBatch(ctx context.Context, remote transfer.Remote, remoteIncoming, id string, staged []StagedFile, report *SendReport, logger *slog.Logger) error {
	batchDir := path.Join(remoteIncoming, id)
	if err := remote.MkdirAll(batchDir); err != nil {
		return fmt.Errorf("creating remote batch directory: %w", err)
	}

	jobs := make([]transfer.Job, 0, len(staged))
	entries := make([]manifest.TransferEntry, 0, len(staged))
	for _, f := range staged {
		name := path.Base(f.StagedPath)
		remotePath := path.Join(batchDir, name)
		jobs = append(jobs, transfer.Job{LocalPath: f.StagedPath, RemotePath: remotePath})

		// The manifest records the configured form of the remote path, so
		// the destination can expand "~" against its own home.
		entries = append(entries, manifest.TransferEntry{
			RemotePath:   path.Join(p.Config.Paths.RemoteIncoming, id, name),
			OriginalPath: f.OriginalPath,
		})
	}

	p.setStatus(id, store.BatchStatusTransferring, "", logger)
	pool := transfer.NewPool(remote, p.Config.Transfer.Workers, p.Config.Transfer.RetryCount, p.Config.RetryWait(), logger)
	pool.OnBytes = func(n int64) { p.Metrics.AddBytes(n) }

	results := pool.Execute(ctx, jobs)
	var failed []string
	for i, r := range results {
		// Results keep job order, so entries[i] is this result's ledger key.
		if r.Error != nil {
			failed = append(failed, path.Base(r.Job.RemotePath))
			p.setFileStatus(id, entries[i].RemotePath, "failed", r.Error.Error())
			continue
		}
		report.Bytes += r.Bytes
		if r.Skipped {
			report.Skipped++
		}
		p.setFileStatus(id, entries[i].RemotePath, "transferred", "")
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed to transfer: %v", len(failed), len(jobs), failed)
	}

	tm := &manifest.Transfer{
		BatchID:   id,
		Timestamp: time.Now().Format(time.RFC3339),
		Files:     entries,
	}
	data, err := manifest.Encode(tm)
	if err != nil {
		return err
	}
	if err := remote.WriteFile(path.Join(batchDir, batch.TransferManifestName), data, 0o644); err != nil {
		return fmt.Errorf("writing transfer manifest: %w", err)
	}

	// Ready marker last. This is the ordering contract with the watcher.
	if err := remote.Touch(path.Join(batchDir, batch.MarkerName)); err != nil {
		return fmt.Errorf("arming ready marker: %w", err)
	}
	logger.Info("batch transferred and marked ready", "files", len(jobs), "bytes", report.Bytes)
	return nil
}

// pollCompletion waits for the completion manifest with a progressive
// backoff: tight at first while a small batch imports, then sparse. A nil
// completion with nil error means the window closed without confirmation.
func (p *Pipeline) pollCompletion(ctx context.Context, remote transfer.Remote, remoteReports, id string, window time.Duration, logger *slog.Logger) (*manifest.Completion, error) {
	manifestPath := path.Join(remoteReports, "manifest_"+id+".json")
	start := time.Now()
	logger.Info("waiting for completion manifest", "path", manifestPath, "window", window)

	for {
		data, err := remote.ReadFile(manifestPath)
		if err == nil {
			completion, derr := manifest.DecodeCompletion(data)
			if derr != nil {
				return nil, fmt.Errorf("completion manifest for %s is invalid: %w", id, derr)
			}
			if completion.BatchID != id {
				return nil, &manifest.ProtocolError{BatchID: id,
					Reason: fmt.Sprintf("completion manifest carries batch id %s", completion.BatchID)}
			}
			logger.Info("import confirmed",
				"files", completion.Count, "warnings", len(completion.Warnings),
				"waited", time.Since(start).Round(time.Second))
			return completion, nil
		}

		elapsed := time.Since(start)
		if elapsed >= window {
			return nil, nil
		}
		if err := p.sleep(ctx, pollInterval(elapsed)); err != nil {
			return nil, err
		}
	}
}

// pollInterval widens as the wait drags on.
func pollInterval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < 30*time.Second:
		return time.Second
	case elapsed < 2*time.Minute:
		return 2 * time.Second
	default:
		return 5 * time.Second
	}
}

// afterConfirmation applies the immediate-cleanup knobs once the import is
// confirmed: drop the local staging copy under zero-day retention and
// truncate the destination's import log when configured.
func (p *Pipeline) afterConfirmation(id string, remote transfer.Remote, remoteReports string, logger *slog.Logger) {
	if p.Config.Cleanup.KeepSuccessfulDays == 0 {
		cleaner := &cleanup.SourceCleaner{
			StagingDir: p.Config.Paths.StagingDir,
			Policy:     p.Config.Cleanup,
			Logger:     logger,
		}
		if err := cleaner.RemoveStagedBatch(id); err != nil {
			logger.Warn("failed to remove staging directory", "error", err)
		}
	}

	if p.Config.Cleanup.CleanImportLog {
		logPath := path.Join(remoteReports, "import.log")
		note := fmt.Sprintf("%s log cleaned after batch %s\n", time.Now().Format("2006-01-02 15:04:05"), id)
		if err := remote.WriteFile(logPath, []byte(note), 0o644); err != nil {
			logger.Warn("failed to clean remote import log", "error", err)
		}
	}
}

// Recheck polls once more for a batch whose confirmation never arrived.
func (p *Pipeline) Recheck(ctx context.Context, id string) (*manifest.Completion, error) {
	if !batch.IsID(id) {
		return nil, fmt.Errorf("not a batch id: %q", id)
	}
	logger := p.Logger.With("batch", id)

	remote, err := p.connect(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer remote.Close()

	remoteReports := safety.ExpandRemoteHome(p.Config.Paths.RemoteReports, remote.HomeDir())
	data, err := remote.ReadFile(path.Join(remoteReports, "manifest_"+id+".json"))
	if err != nil {
		return nil, fmt.Errorf("no completion manifest for batch %s yet", id)
	}
	completion, err := manifest.DecodeCompletion(data)
	if err != nil {
		return nil, fmt.Errorf("completion manifest for %s is invalid: %w", id, err)
	}

	p.recordCompletion(id, completion, logger)
	p.afterConfirmation(id, remote, remoteReports, logger)
	logger.Info("import confirmed on recheck", "files", completion.Count)
	return completion, nil
}

// ============================================================================
// Ledger bookkeeping (best effort; the filesystem remains authoritative)
// ============================================================================

func (p *Pipeline) logLedgerCreate(id, stagingDir string, staged []StagedFile, logger *slog.Logger) {
	if p.Store == nil {
		return
	}
	b := &store.Batch{
		BatchID:    id,
		Status:     store.BatchStatusStaged,
		FileCount:  len(staged),
		StagingDir: stagingDir,
	}
	if err := p.Store.CreateBatch(b); err != nil {
		logger.Warn("failed to record batch in ledger", "error", err)
		return
	}
	files := make([]store.BatchFile, 0, len(staged))
	for _, f := range staged {
		files = append(files, store.BatchFile{
			BatchID:      id,
			OriginalPath: f.OriginalPath,
			RemotePath:   path.Join(p.Config.Paths.RemoteIncoming, id, path.Base(f.StagedPath)),
			Status:       "staged",
		})
	}
	if err := p.Store.AddBatchFiles(files); err != nil {
		logger.Warn("failed to record batch files in ledger", "error", err)
	}
}

func (p *Pipeline) setStatus(id, status, errMsg string, logger *slog.Logger) {
	if p.Store == nil {
		return
	}
	if err := p.Store.SetBatchStatus(id, status, errMsg); err != nil {
		logger.Warn("failed to update ledger status", "error", err)
	}
}

func (p *Pipeline) setFileStatus(id, remotePath, status, errMsg string) {
	if p.Store == nil {
		return
	}
	_ = p.Store.SetFileStatus(id, remotePath, status, errMsg)
}

func (p *Pipeline) failBatch(id string, cause error, logger *slog.Logger) {
	p.Metrics.IncFailed()
	p.setStatus(id, store.BatchStatusFailed, cause.Error(), logger)
}

func (p *Pipeline) recordCompletion(id string, c *manifest.Completion, logger *slog.Logger) {
	p.Metrics.IncImported()
	p.Metrics.AddWarnings(len(c.Warnings))
	if p.Store == nil {
		return
	}
	completedAt, err := time.Parse(time.RFC3339, c.Timestamp)
	if err != nil {
		completedAt = time.Now()
	}
	if err := p.Store.CompleteBatch(id, c.Count, len(c.Warnings), completedAt); err != nil {
		logger.Warn("failed to record completion in ledger", "error", err)
	}
	for _, f := range c.Files {
		remotePath := path.Join(p.Config.Paths.RemoteIncoming, id, f.Filename)
		_ = p.Store.MarkFileImported(id, remotePath, f.ImportTime)
	}
}
