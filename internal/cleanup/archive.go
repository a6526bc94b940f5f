package cleanup

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// archiveBatch packs a processed batch directory into a tar.zst file in
// archiveDir before the directory is purged. The archive is named after
// the batch id.
func archiveBatch(batchDir, archiveDir string) (string, error) {
	id := filepath.Base(batchDir)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}
	archivePath := filepath.Join(archiveDir, id+".tar.zst")

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("creating archive %s: %w", archivePath, err)
	}

	zstdWriter, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	tarWriter := tar.NewWriter(zstdWriter)

	walkErr := filepath.Walk(batchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(batchDir, path)
		if err != nil {
			return err
		}
		return addFileToTar(tarWriter, path, filepath.Join(id, rel))
	})
	if walkErr != nil {
		_ = tarWriter.Close()
		_ = zstdWriter.Close()
		_ = f.Close()
		_ = os.Remove(archivePath)
		return "", fmt.Errorf("archiving %s: %w", batchDir, walkErr)
	}

	if err := tarWriter.Close(); err != nil {
		return "", fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing archive file: %w", err)
	}
	return archivePath, nil
}

// addFileToTar adds a single file to a tar archive.
func addFileToTar(tw *tar.Writer, srcPath, tarPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = tarPath

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
