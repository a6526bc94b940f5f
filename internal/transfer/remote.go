// Package transfer moves staged batches to the destination machine over
// SSH/SFTP and exposes the remote filesystem operations the pipeline needs.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrConnectivity marks failures of the connection itself rather than of a
// specific file operation. Callers use it to decide whether to re-wake and
// reconnect instead of retrying the operation.
var ErrConnectivity = errors.New("destination unreachable")

// TransferError reports a failure while moving one file.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ProgressFunc receives the byte count of each chunk as it lands.
type ProgressFunc func(n int64)

// Remote is the destination filesystem as seen from the source machine.
// The SFTP client implements it; tests substitute an in-memory fake.
type Remote interface {
	// HomeDir is the remote user's home directory, used to resolve "~"
	// prefixes in configured remote paths.
	HomeDir() string

	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)

	// Upload copies a local file to remotePath, creating it fresh. The
	// context is checked between chunks.
	Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) (int64, error)

	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadFile(path string) ([]byte, error)
	Remove(path string) error
	RemoveAll(path string) error

	// Touch creates an empty file, or refreshes the mtime of an existing
	// one. Marker and trigger files are written this way.
	Touch(path string) error

	Close() error
}
