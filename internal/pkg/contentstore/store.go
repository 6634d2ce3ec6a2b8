// Package contentstore implements the content-addressed posix store backing
// asset ingestion. Temporary uploads, canonical originals and generated
// derivatives live in separate directories under one root; originals and
// derivatives are keyed by the asset's SHA-256.
package contentstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a key or path would resolve outside the
// store root. Traversal is rejected, never clamped.
var ErrOutsideRoot = errors.New("path escapes store root")

// Store maps content hashes to durable file locations.
type Store struct {
	root        string
	uploads     string
	originals   string
	derivatives string
}

// New creates a content store rooted at root. The three namespace
// directories are created up front.
func New(root, uploads, originals, derivatives string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	s := &Store{
		root:        absRoot,
		uploads:     uploads,
		originals:   originals,
		derivatives: derivatives,
	}
	for _, dir := range []string{uploads, originals, derivatives} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// TempPath returns the staging location for an in-flight upload.
func (s *Store) TempPath(assetID string) string {
	return filepath.Join(s.uploads, assetID+".upload")
}

// OriginalPath returns the canonical location for a committed original.
func (s *Store) OriginalPath(sha256Hex, ext string) string {
	return filepath.Join(s.originals, sha256Hex+ext)
}

// CommitOriginal moves a temp upload into the originals namespace. The
// operation is idempotent: when the destination already exists the temp
// file is discarded and the existing path returned. This is the first
// line of defense against double-storing identical bytes.
func (s *Store) CommitOriginal(tempPath, sha256Hex, ext string) (string, error) {
	dest := s.OriginalPath(sha256Hex, ext)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create originals directory: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		_ = os.Remove(tempPath)
		return dest, nil
	}
	if err := os.Rename(tempPath, dest); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if copyErr := copyFile(tempPath, dest); copyErr != nil {
			return "", fmt.Errorf("commit original: %w", err)
		}
		_ = os.Remove(tempPath)
	}
	return dest, nil
}

// DerivativePath returns the location for a generated rendition, creating
// parent directories as needed.
func (s *Store) DerivativePath(sha256Hex, variant, format string) (string, error) {
	p := filepath.Join(s.derivatives, sha256Hex, variant+"."+format)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create derivatives directory: %w", err)
	}
	return p, nil
}

// FindDerivative returns the derivative path when present, or "" when the
// file does not exist.
func (s *Store) FindDerivative(sha256Hex, variant, format string) string {
	p := filepath.Join(s.derivatives, sha256Hex, variant+"."+format)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// KeyFor converts an absolute path inside the store into a root-relative
// key suitable for persistence.
func (s *Store) KeyFor(absPath string) (string, error) {
	abs, err := filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return filepath.ToSlash(rel), nil
}

// PathFor resolves a stored key back to an absolute path, rejecting keys
// that would escape the root.
func (s *Store) PathFor(key string) (string, error) {
	if filepath.IsAbs(key) {
		return "", ErrOutsideRoot
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return filepath.Join(s.root, clean), nil
}

// RemoveTemp deletes a staged upload. Missing files are not an error.
func (s *Store) RemoveTemp(assetID string) {
	_ = os.Remove(s.TempPath(assetID))
}

// RemoveOriginal deletes a committed original.
func (s *Store) RemoveOriginal(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// RemoveDerivatives deletes every rendition generated for a content hash.
func (s *Store) RemoveDerivatives(sha256Hex string) {
	if sha256Hex == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(s.derivatives, sha256Hex))
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
