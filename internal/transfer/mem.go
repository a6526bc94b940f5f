package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemRemote is an in-memory Remote used by tests across the pipeline
// packages. It mimics a POSIX destination with slash-separated paths.
type MemRemote struct {
	mu     sync.Mutex
	home   string
	files  map[string][]byte
	mtimes map[string]time.Time
	dirs   map[string]bool

	// UploadFailures injects per-path failures: each Upload to a listed
	// path decrements its count and fails until it reaches zero.
	UploadFailures map[string]int

	Closed bool
}

// NewMemRemote returns an empty in-memory destination rooted at home.
func NewMemRemote(home string) *MemRemote {
	m := &MemRemote{
		home:           home,
		files:          make(map[string][]byte),
		mtimes:         make(map[string]time.Time),
		dirs:           make(map[string]bool),
		UploadFailures: make(map[string]int),
	}
	m.dirs[home] = true
	return m
}

func (m *MemRemote) HomeDir() string { return m.home }

func (m *MemRemote) Stat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if data, ok := m.files[p]; ok {
		return &memFileInfo{name: path.Base(p), size: int64(len(data)), mtime: m.mtimes[p]}, nil
	}
	if m.dirs[p] {
		return &memFileInfo{name: path.Base(p), dir: true, mtime: m.mtimes[p]}, nil
	}
	return nil, fs.ErrNotExist
}

func (m *MemRemote) MkdirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	for p != "/" && p != "." {
		m.dirs[p] = true
		p = path.Dir(p)
	}
	return nil
}

func (m *MemRemote) ReadDir(dir string) ([]os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = path.Clean(dir)
	if !m.dirs[dir] {
		return nil, fs.ErrNotExist
	}

	var infos []os.FileInfo
	seen := make(map[string]bool)
	for p, data := range m.files {
		if path.Dir(p) == dir {
			infos = append(infos, &memFileInfo{name: path.Base(p), size: int64(len(data)), mtime: m.mtimes[p]})
		}
	}
	for p := range m.dirs {
		if path.Dir(p) == dir && !seen[path.Base(p)] {
			seen[path.Base(p)] = true
			infos = append(infos, &memFileInfo{name: path.Base(p), dir: true, mtime: m.mtimes[p]})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (m *MemRemote) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &TransferError{Path: remotePath, Err: err}
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, &TransferError{Path: localPath, Err: err}
	}

	m.mu.Lock()
	remotePath = path.Clean(remotePath)
	if n := m.UploadFailures[remotePath]; n > 0 {
		m.UploadFailures[remotePath] = n - 1
		// Leave a truncated partial behind, as an interrupted link would.
		if len(data) > 1 {
			m.files[remotePath] = data[:len(data)/2]
			m.mtimes[remotePath] = time.Now()
		}
		m.mu.Unlock()
		return 0, &TransferError{Path: remotePath, Err: fmt.Errorf("injected failure")}
	}
	m.files[remotePath] = append([]byte(nil), data...)
	m.mtimes[remotePath] = time.Now()
	m.mu.Unlock()

	if onProgress != nil {
		onProgress(int64(len(data)))
	}
	return int64(len(data)), nil
}

func (m *MemRemote) WriteFile(p string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.files[p] = append([]byte(nil), data...)
	m.mtimes[p] = time.Now()
	return nil
}

func (m *MemRemote) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (m *MemRemote) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		delete(m.mtimes, p)
		return nil
	}
	if m.dirs[p] {
		delete(m.dirs, p)
		return nil
	}
	return fs.ErrNotExist
}

func (m *MemRemote) RemoveAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	prefix := p + "/"
	for f := range m.files {
		if f == p || strings.HasPrefix(f, prefix) {
			delete(m.files, f)
			delete(m.mtimes, f)
		}
	}
	for d := range m.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *MemRemote) Touch(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; !ok {
		m.files[p] = []byte{}
	}
	m.mtimes[p] = time.Now()
	return nil
}

func (m *MemRemote) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetMtime backdates an entry, used by retention tests.
func (m *MemRemote) SetMtime(p string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mtimes[path.Clean(p)] = t
}

// Exists reports whether a file or directory is present.
func (m *MemRemote) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	_, ok := m.files[p]
	return ok || m.dirs[p]
}

type memFileInfo struct {
	name  string
	size  int64
	dir   bool
	mtime time.Time
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi *memFileInfo) ModTime() time.Time { return fi.mtime }
func (fi *memFileInfo) IsDir() bool        { return fi.dir }
func (fi *memFileInfo) Sys() any           { return nil }
