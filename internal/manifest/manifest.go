package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TransferEntry maps one transferred file to its provenance. RemotePath is
// the path on the destination as staged; OriginalPath is the absolute path
// on the source and may still carry a leading home-directory shorthand.
type TransferEntry struct {
	RemotePath   string `json:"remote_path"`
	OriginalPath string `json:"original_path"`
}

// Transfer describes a batch's file set. It is written by the initiator
// before the ready marker and is immutable afterwards.
type Transfer struct {
	BatchID   string          `json:"batch_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Files     []TransferEntry `json:"files"`
}

// FileRecord is one reconciled file in a completion manifest.
type FileRecord struct {
	Filename     string `json:"filename"`
	OriginalPath string `json:"original_path"`
	ImportTime   string `json:"import_time"`
	Warning      string `json:"warning,omitempty"`
}

// Completion is the provenance report produced after import, addressed by
// batch id. It is written at most once per batch.
type Completion struct {
	BatchID   string       `json:"batch_id"`
	Timestamp string       `json:"timestamp"`
	Count     int          `json:"count"`
	Files     []FileRecord `json:"files"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// ProtocolError reports a broken ordering contract between the two sides,
// such as a ready marker observed without a transfer manifest. It halts
// the affected batch but must never crash the observing process.
type ProtocolError struct {
	BatchID string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in batch %s: %s", e.BatchID, e.Reason)
}

// Validate checks the transfer manifest invariants: at least one file and
// unique remote paths.
func (t *Transfer) Validate() error {
	if len(t.Files) == 0 {
		return fmt.Errorf("transfer manifest has no files")
	}
	seen := make(map[string]struct{}, len(t.Files))
	for _, f := range t.Files {
		if f.RemotePath == "" || f.OriginalPath == "" {
			return fmt.Errorf("transfer manifest entry missing a path: %+v", f)
		}
		if _, dup := seen[f.RemotePath]; dup {
			return fmt.Errorf("duplicate remote_path in transfer manifest: %s", f.RemotePath)
		}
		seen[f.RemotePath] = struct{}{}
	}
	return nil
}

// Encode marshals a manifest document in its canonical indented form.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return data, nil
}

// WriteAtomic marshals v and writes it via a temporary file and rename so
// a partially written document is never observable by a reader.
func WriteAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting manifest mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing manifest: %w", err)
	}
	committed = true
	return nil
}

// ReadTransfer reads, schema-validates, and decodes a transfer manifest.
func ReadTransfer(path string) (*Transfer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTransfer(data)
}

// DecodeTransfer schema-validates and decodes transfer manifest bytes.
// The arrival trigger is payload-unreliable, so documents are checked
// against the schema before anything trusts their contents.
func DecodeTransfer(data []byte) (*Transfer, error) {
	if err := validateTransfer(data); err != nil {
		return nil, fmt.Errorf("transfer manifest schema: %w", err)
	}
	var t Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing transfer manifest: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReadCompletion reads, schema-validates, and decodes a completion manifest.
func ReadCompletion(path string) (*Completion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCompletion(data)
}

// DecodeCompletion schema-validates and decodes completion manifest bytes.
func DecodeCompletion(data []byte) (*Completion, error) {
	if err := validateCompletion(data); err != nil {
		return nil, fmt.Errorf("completion manifest schema: %w", err)
	}
	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing completion manifest: %w", err)
	}
	return &c, nil
}
