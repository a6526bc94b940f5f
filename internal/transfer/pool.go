package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Job is one file to move to the destination.
type Job struct {
	LocalPath  string
	RemotePath string
}

// Result is the outcome of one upload job. Results keep the order of the
// submitted jobs.
type Result struct {
	Job     Job
	Success bool
	Skipped bool // already present remotely with matching size
	Bytes   int64
	Error   error
	index   int
}

// Pool uploads files concurrently over a shared Remote. SFTP multiplexes
// transfers over one SSH connection, so workers share the session rather
// than dialing per worker.
type Pool struct {
	remote     Remote
	workers    int
	retryCount int
	retryWait  time.Duration
	logger     *slog.Logger

	// OnBytes, when set, receives chunk sizes as they land. Wired to the
	// transfer byte counter.
	OnBytes ProgressFunc
}

// NewPool creates an upload pool with the given concurrency and per-file
// retry policy.
func NewPool(remote Remote, workers, retryCount int, retryWait time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if retryCount <= 0 {
		retryCount = 3
	}
	return &Pool{
		remote:     remote,
		workers:    workers,
		retryCount: retryCount,
		retryWait:  retryWait,
		logger:     logger,
	}
}

// Execute submits jobs and waits for all of them. Results maintain the
// order of the input jobs. Context cancellation stops workers between
// files and between chunks within a file.
func (p *Pool) Execute(ctx context.Context, jobs []Job) []Result {
	if len(jobs) == 0 {
		return []Result{}
	}

	jobsChan := make(chan jobWithIndex, len(jobs))
	resultsChan := make(chan Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobsChan, resultsChan, &wg)
	}

	for i, job := range jobs {
		jobsChan <- jobWithIndex{job: job, index: i}
	}
	close(jobsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]Result, 0, len(jobs))
	for result := range resultsChan {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})
	return results
}

type jobWithIndex struct {
	job   Job
	index int
}

func (p *Pool) worker(ctx context.Context, jobsChan <-chan jobWithIndex, resultsChan chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for jw := range jobsChan {
		select {
		case <-ctx.Done():
			resultsChan <- Result{Job: jw.job, Error: ctx.Err(), index: jw.index}
			return
		default:
		}

		result := p.uploadWithRetry(ctx, jw.job)
		result.index = jw.index

		if result.Error != nil {
			p.logger.Error("upload failed",
				"file", filepath.Base(jw.job.LocalPath), "error", result.Error)
		} else if result.Skipped {
			p.logger.Debug("upload skipped, already present",
				"file", filepath.Base(jw.job.LocalPath))
		} else {
			p.logger.Info("upload completed",
				"file", filepath.Base(jw.job.LocalPath), "bytes", result.Bytes)
		}
		resultsChan <- result
	}
}

// uploadWithRetry performs one job with the pool's retry policy. A remote
// file already present with the local file's exact size is treated as
// transferred; any other pre-existing remote file is removed and re-sent
// in full.
func (p *Pool) uploadWithRetry(ctx context.Context, job Job) Result {
	localInfo, err := os.Stat(job.LocalPath)
	if err != nil {
		return Result{Job: job, Error: &TransferError{Path: job.LocalPath, Err: err}}
	}

	var lastErr error
	for attempt := 1; attempt <= p.retryCount; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Result{Job: job, Error: ctx.Err()}
			case <-time.After(p.retryWait):
			}
		}

		if fi, err := p.remote.Stat(job.RemotePath); err == nil {
			if fi.Size() == localInfo.Size() {
				return Result{Job: job, Success: true, Skipped: true, Bytes: fi.Size()}
			}
			if err := p.remote.Remove(job.RemotePath); err != nil {
				lastErr = &TransferError{Path: job.RemotePath, Err: fmt.Errorf("removing partial file: %w", err)}
				continue
			}
		}

		n, err := p.remote.Upload(ctx, job.LocalPath, job.RemotePath, p.OnBytes)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Result{Job: job, Error: err}
			}
			p.logger.Warn("upload attempt failed",
				"file", filepath.Base(job.LocalPath), "attempt", attempt, "error", err)
			continue
		}

		// Verify the destination saw the full file before declaring success.
		if fi, err := p.remote.Stat(job.RemotePath); err != nil || fi.Size() != localInfo.Size() {
			lastErr = &TransferError{
				Path: job.RemotePath,
				Err:  fmt.Errorf("size verification failed: wrote %d of %d bytes", n, localInfo.Size()),
			}
			continue
		}

		return Result{Job: job, Success: true, Bytes: n}
	}

	return Result{Job: job, Error: fmt.Errorf("after %d attempts: %w", p.retryCount, lastErr)}
}
