package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPerm  = 0o750
	defaultFilePerm = 0o640
	tmpPrefix       = ".tmp-"
)

// FSBackend stores blobs as regular files in one directory.
type FSBackend struct {
	dir      string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// FSOption configures an FSBackend.
type FSOption func(*FSBackend)

// WithDirPerm sets the permissions used when creating the directory.
func WithDirPerm(mode os.FileMode) FSOption {
	return func(b *FSBackend) {
		b.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of created blobs.
func WithFilePerm(mode os.FileMode) FSOption {
	return func(b *FSBackend) {
		b.filePerm = mode
	}
}

// NewFSBackend creates a filesystem backend rooted at dir, creating it if needed.
func NewFSBackend(dir string, opts ...FSOption) (*FSBackend, error) {
	if dir == "" {
		return nil, errors.New("backend dir is empty")
	}
	b := &FSBackend{
		dir:      dir,
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := os.MkdirAll(dir, b.dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create backend directory: %w", err)
	}
	return b, nil
}

// Dir returns the backing directory.
func (b *FSBackend) Dir() string {
	return b.dir
}

func (b *FSBackend) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(b.dir, name), nil
}

// Create opens a new file for writing.
func (b *FSBackend) Create(name string) (io.WriteCloser, error) {
	path, err := b.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, b.filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return f, nil
}

// Open opens a file for reading.
func (b *FSBackend) Open(name string) (io.ReadSeekCloser, error) {
	path, err := b.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // name is validated and confined to dir
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Size returns the file length.
func (b *FSBackend) Size(name string) (int64, error) {
	path, err := b.path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}

// Touch creates an empty marker file through a temporary file and rename so a
// crash never leaves a half-created marker behind.
func (b *FSBackend) Touch(name string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create marker %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to create marker %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to create marker %s: %w", name, err)
	}
	return nil
}

// Rename moves a file within the directory.
func (b *FSBackend) Rename(oldName, newName string) error {
	oldPath, err := b.path(oldName)
	if err != nil {
		return err
	}
	newPath, err := b.path(newName)
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldName, err)
	}
	return nil
}

// Remove deletes a file.
func (b *FSBackend) Remove(name string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// List returns the names of all regular files, skipping leftover temporaries.
func (b *FSBackend) List() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
