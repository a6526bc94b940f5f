package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Well-known file names inside a batch directory. The ordering contract is
// that the transfer manifest is fully written before the ready marker, so
// any observer of the marker may assume the manifest is complete.
const (
	MarkerName           = ".ready"
	FailedMarkerName     = ".failed"
	TransferManifestName = "transfer_manifest.json"
	StagedManifestName   = "staged_manifest.json"
)

var idPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)

// NewID derives a batch identifier from t with second resolution.
// IDs sort lexicographically in creation order, which is what the
// arrival watcher's FIFO selection relies on.
func NewID(t time.Time) string {
	return t.Format("20060102_150405")
}

// IsID reports whether name has the timestamp-derived batch id shape.
func IsID(name string) bool {
	return idPattern.MatchString(name)
}

// IDTime parses the creation time encoded in a batch id.
func IDTime(id string) (time.Time, error) {
	t, err := time.ParseInLocation("20060102_150405", id, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid batch id %q: %w", id, err)
	}
	return t, nil
}

var imageExtensions = map[string]struct{}{
	".heic": {},
	".heif": {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".tiff": {},
	".tif":  {},
	".bmp":  {},
	".dng":  {},
	".raw":  {},
	".mov":  {},
	".mp4":  {},
}

// IsMedia reports whether name carries a recognized image or movie
// extension. The check is case-insensitive.
func IsMedia(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// HasMarker reports whether the batch directory contains a ready marker.
func HasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerName))
	return err == nil
}

// HasFailedMarker reports whether a batch was sidelined after a protocol
// violation so the watcher does not rescan it forever.
func HasFailedMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FailedMarkerName))
	return err == nil
}

// WriteMarker creates the zero-byte ready marker. It must be the last
// write into a batch directory on the source side.
func WriteMarker(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, MarkerName), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writing ready marker: %w", err)
	}
	return f.Close()
}

// WriteFailedMarker sidelines a batch after a protocol violation.
func WriteFailedMarker(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, FailedMarkerName), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writing failed marker: %w", err)
	}
	return f.Close()
}

// MediaFiles lists the media files in a batch directory, sorted by name.
func MediaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading batch directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsMedia(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// CompletionExists reports whether a completion manifest for id is already
// present in the reports directory. Its pre-existence is the idempotency
// check that keeps a batch from being processed twice.
func CompletionExists(reportsDir, id string) bool {
	_, err := os.Stat(CompletionPath(reportsDir, id))
	return err == nil
}

// CompletionPath returns the reports-store path of id's completion manifest.
func CompletionPath(reportsDir, id string) string {
	return filepath.Join(reportsDir, "manifest_"+id+".json")
}

// OldestEligible returns the path of the oldest batch directory in
// incomingDir that has a ready marker, no failed marker, and no completion
// manifest in reportsDir. An empty result means nothing is waiting, which
// is not an error.
func OldestEligible(incomingDir, reportsDir string) (string, error) {
	entries, err := os.ReadDir(incomingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading incoming directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && IsID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		dir := filepath.Join(incomingDir, id)
		if !HasMarker(dir) || HasFailedMarker(dir) {
			continue
		}
		if CompletionExists(reportsDir, id) {
			continue
		}
		return dir, nil
	}
	return "", nil
}
