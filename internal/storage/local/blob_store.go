// Package local keeps downloaded descriptors on disk under the data
// directory's poms/ root, one subdirectory per repository.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const partSuffix = ".part-*"

// Config locates the descriptor root.
type Config struct {
	BaseDir string
}

// BlobStore maps keys of the form "<owner>.<repo>/<path>" to files below
// BaseDir. A file becomes visible to Exists only once fully written, so a
// crash mid-download never leaves a descriptor that a resume would skip.
type BlobStore struct {
	root string
}

// New prepares BaseDir, creating it if needed, and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("descriptor directory is required")
	}
	root := filepath.Clean(cfg.BaseDir)
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create descriptor directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat descriptor directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("descriptor directory %s is not a directory", root)
	}

	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("descriptor directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// resolve maps key to a path below the root. Paths come from remote trees, so
// keys that climb out of the root are rejected.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("descriptor key is required")
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("descriptor key %q escapes %s", key, s.root)
	}
	return full, nil
}

// Exists reports whether key has been completely written.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", full, err)
	}
}

// PutObject streams r into a hidden part file next to the target and renames
// it into place. It returns a file:// URI for the final path.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, r io.Reader) (uri string, err error) {
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	part, err := os.CreateTemp(dir, "."+filepath.Base(full)+partSuffix)
	if err != nil {
		return "", fmt.Errorf("create part file for %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(part.Name())
		}
	}()
	if _, err = io.Copy(part, r); err != nil {
		_ = part.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err = part.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err = os.Chmod(part.Name(), 0o600); err != nil {
		return "", fmt.Errorf("chmod %s: %w", key, err)
	}
	if err = os.Rename(part.Name(), full); err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	return "file://" + full, nil
}
