package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"photopipe/internal/batch"
	"photopipe/internal/manifest"
)

// StagedFile pairs a staged copy with its provenance.
type StagedFile struct {
	StagedPath   string
	OriginalPath string
	Size         int64
}

// stageBatch copies the source files into a new batch directory under
// stagingDir. Name collisions inside the batch get a numeric suffix so
// two same-named photos from different folders both survive. The staged
// manifest records the mapping for recovery if the process dies before
// the transfer manifest is written remotely.
func stageBatch(stagingDir, id string, paths []string) (string, []StagedFile, error) {
	dir := filepath.Join(stagingDir, id)
	if _, err := os.Stat(dir); err == nil {
		return "", nil, fmt.Errorf("staging directory already exists for batch %s", id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating staging directory: %w", err)
	}

	used := make(map[string]bool)
	staged := make([]StagedFile, 0, len(paths))
	for _, src := range paths {
		name := uniqueName(filepath.Base(src), used)
		used[name] = true
		dest := filepath.Join(dir, name)

		size, err := copyFile(src, dest)
		if err != nil {
			return "", nil, fmt.Errorf("staging %s: %w", src, err)
		}

		// Size check catches a source file truncated mid-copy.
		if fi, err := os.Stat(src); err == nil && fi.Size() != size {
			return "", nil, fmt.Errorf("staging %s: size changed during copy", src)
		}

		abs, err := filepath.Abs(src)
		if err != nil {
			abs = src
		}
		staged = append(staged, StagedFile{StagedPath: dest, OriginalPath: abs, Size: size})
	}

	sm := &manifest.Transfer{BatchID: id, Files: make([]manifest.TransferEntry, 0, len(staged))}
	for _, f := range staged {
		sm.Files = append(sm.Files, manifest.TransferEntry{
			RemotePath:   f.StagedPath,
			OriginalPath: f.OriginalPath,
		})
	}
	if err := manifest.WriteAtomic(filepath.Join(dir, batch.StagedManifestName), sm); err != nil {
		return "", nil, err
	}

	return dir, staged, nil
}

// uniqueName suffixes name with _NNN before the extension until it does
// not collide with an already staged file.
func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%03d%s", stem, i, ext)
		if !used[candidate] {
			return candidate
		}
	}
}

func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		_ = os.Remove(dest)
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// verifySources checks every input exists, is a regular readable file,
// and carries a recognized media extension.
func verifySources(paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no files to send")
	}
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("source file %s: %w", p, err)
		}
		if fi.IsDir() {
			return fmt.Errorf("source %s is a directory", p)
		}
		if !batch.IsMedia(p) {
			return fmt.Errorf("source %s is not a recognized photo or movie file", p)
		}
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("source file %s is not readable: %w", p, err)
		}
		f.Close()
	}
	return nil
}
