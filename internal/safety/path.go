package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome resolves a leading "~" or "~/" in p against home.
// When home is empty the current user's home directory is used.
// Paths without the shorthand are returned unchanged.
func ExpandHome(p, home string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		home = h
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// ExpandRemoteHome resolves a leading "~" in a remote POSIX path against
// the remote home directory. Relative remote paths are also anchored at
// home, matching how the transfer channel resolves them.
func ExpandRemoteHome(p, home string) string {
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return home + p[1:]
	case !strings.HasPrefix(p, "/"):
		return home + "/" + p
	default:
		return p
	}
}

// EnsureUnderRoot verifies candidate resolves under root and returns an
// absolute normalized path. Retention sweeps use this so a misconfigured
// path root can never delete outside the pipeline's directories.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}

// SafeJoinUnder joins a relative path under root, rejecting absolute
// paths and parent traversal, and verifies the result stays inside root.
func SafeJoinUnder(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." {
		return "", fmt.Errorf("path resolves to current directory")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", rel)
	}
	return EnsureUnderRoot(root, filepath.Join(root, clean))
}
