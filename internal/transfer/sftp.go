package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialOptions configures an SSH/SFTP connection to the destination.
type DialOptions struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Timeout        time.Duration
	ChunkSize      int
	KnownHostsPath string

	// AcceptUnknownHosts switches host key verification to trust-on-first-use:
	// a key not present in the known-hosts file is appended and accepted.
	// Key MISMATCHES are always rejected.
	AcceptUnknownHosts bool
}

// SFTPRemote is the production Remote backed by an SSH connection.
type SFTPRemote struct {
	conn    *ssh.Client
	client  *sftp.Client
	home    string
	chunk   int
	logger  *slog.Logger
	closeMu sync.Mutex
	closed  bool
}

// Dial connects and opens an SFTP session. Connection-level failures are
// wrapped with ErrConnectivity so callers can distinguish "machine is
// asleep or off" from per-file errors.
func Dial(opts DialOptions, logger *slog.Logger) (*SFTPRemote, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %w", opts.KeyPath, err)
	}

	hostKeyCallback, err := hostKeyPolicy(opts.KnownHostsPath, opts.AcceptUnknownHosts)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", port))

	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnectivity, addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: opening sftp session: %v", ErrConnectivity, err)
	}

	home, err := client.Getwd()
	if err != nil {
		client.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: resolving remote home: %v", ErrConnectivity, err)
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = 32 * 1024
	}

	logger.Debug("sftp session established", "addr", addr, "home", home)
	return &SFTPRemote{
		conn:   conn,
		client: client,
		home:   home,
		chunk:  chunk,
		logger: logger,
	}, nil
}

// hostKeyPolicy builds the host key callback. The default verifies against
// the known-hosts file. With acceptUnknown set, keys for hosts not yet in
// the file are appended and trusted on first use.
func hostKeyPolicy(knownHostsPath string, acceptUnknown bool) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" && acceptUnknown {
		return nil, fmt.Errorf("known_hosts_path is required for trust-on-first-use")
	}

	if _, err := os.Stat(knownHostsPath); errors.Is(err, os.ErrNotExist) && acceptUnknown {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating known_hosts directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, nil, 0o600); err != nil {
			return nil, fmt.Errorf("creating known_hosts file: %w", err)
		}
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", knownHostsPath, err)
	}
	if !acceptUnknown {
		return verify, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// Unknown host, not a mismatch. Record and accept.
			f, ferr := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0o600)
			if ferr != nil {
				return fmt.Errorf("recording host key: %w", ferr)
			}
			defer f.Close()
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			if _, werr := fmt.Fprintln(f, line); werr != nil {
				return fmt.Errorf("recording host key: %w", werr)
			}
			return nil
		}
		return err
	}, nil
}

// HomeDir returns the remote user's home directory.
func (r *SFTPRemote) HomeDir() string { return r.home }

func (r *SFTPRemote) Stat(p string) (os.FileInfo, error) {
	return r.client.Stat(p)
}

func (r *SFTPRemote) MkdirAll(p string) error {
	return r.client.MkdirAll(p)
}

func (r *SFTPRemote) ReadDir(p string) ([]os.FileInfo, error) {
	return r.client.ReadDir(p)
}

// Upload copies localPath to remotePath in chunks, checking the context
// between chunks so a stuck link can be abandoned mid-file.
func (r *SFTPRemote) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, &TransferError{Path: localPath, Err: err}
	}
	defer src.Close()

	dst, err := r.client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, &TransferError{Path: remotePath, Err: err}
	}

	var written int64
	buf := make([]byte, r.chunk)
	for {
		select {
		case <-ctx.Done():
			dst.Close()
			return written, &TransferError{Path: remotePath, Err: ctx.Err()}
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				return written, &TransferError{Path: remotePath, Err: werr}
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(int64(n))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dst.Close()
			return written, &TransferError{Path: localPath, Err: rerr}
		}
	}

	if err := dst.Close(); err != nil {
		return written, &TransferError{Path: remotePath, Err: err}
	}
	return written, nil
}

func (r *SFTPRemote) WriteFile(p string, data []byte, perm os.FileMode) error {
	f, err := r.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("creating remote file %s: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing remote file %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing remote file %s: %w", p, err)
	}
	if err := r.client.Chmod(p, perm); err != nil {
		r.logger.Warn("failed to chmod remote file", "path", p, "error", err)
	}
	return nil
}

func (r *SFTPRemote) ReadFile(p string) ([]byte, error) {
	f, err := r.client.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (r *SFTPRemote) Remove(p string) error {
	return r.client.Remove(p)
}

func (r *SFTPRemote) RemoveAll(p string) error {
	return r.client.RemoveAll(p)
}

func (r *SFTPRemote) Touch(p string) error {
	f, err := r.client.OpenFile(p, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return fmt.Errorf("touching %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("touching %s: %w", p, err)
	}
	now := time.Now()
	if err := r.client.Chtimes(p, now, now); err != nil {
		r.logger.Debug("failed to refresh mtime", "path", p, "error", err)
	}
	return nil
}

// Close tears down the SFTP session and the underlying SSH connection.
func (r *SFTPRemote) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	cerr := r.client.Close()
	if err := r.conn.Close(); err != nil && cerr == nil {
		cerr = err
	}
	return cerr
}
