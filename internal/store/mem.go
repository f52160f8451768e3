package store

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemBackend keeps blobs in process memory.
type MemBackend struct {
	mu    sync.RWMutex
	blobs map[string]*memBlob
}

type memBlob struct {
	data []byte
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{blobs: make(map[string]*memBlob)}
}

// Create registers an empty blob and returns a writer appending to it.
func (b *MemBackend) Create(name string) (io.WriteCloser, error) {
	if name == "" {
		return nil, fmt.Errorf("invalid blob name %q", name)
	}
	blob := &memBlob{}
	b.mu.Lock()
	b.blobs[name] = blob
	b.mu.Unlock()
	return &memWriter{backend: b, blob: blob}, nil
}

// Open returns a reader over a snapshot of the blob.
func (b *MemBackend) Open(name string) (io.ReadSeekCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[name]
	if !ok {
		return nil, fmt.Errorf("failed to open %s: %w", name, ErrNotExist)
	}
	return nopCloser{bytes.NewReader(blob.data)}, nil
}

// Size returns the blob length.
func (b *MemBackend) Size(name string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[name]
	if !ok {
		return 0, fmt.Errorf("failed to stat %s: %w", name, ErrNotExist)
	}
	return int64(len(blob.data)), nil
}

// Touch creates an empty blob.
func (b *MemBackend) Touch(name string) error {
	if name == "" {
		return fmt.Errorf("invalid blob name %q", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[name] = &memBlob{}
	return nil
}

// Rename moves a blob.
func (b *MemBackend) Rename(oldName, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[oldName]
	if !ok {
		return fmt.Errorf("failed to rename %s: %w", oldName, ErrNotExist)
	}
	delete(b.blobs, oldName)
	b.blobs[newName] = blob
	return nil
}

// Remove deletes a blob.
func (b *MemBackend) Remove(name string) error {
	b.mu.Lock()
	delete(b.blobs, name)
	b.mu.Unlock()
	return nil
}

// List returns all blob names in lexical order.
func (b *MemBackend) List() ([]string, error) {
	b.mu.RLock()
	names := make([]string, 0, len(b.blobs))
	for name := range b.blobs {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

type memWriter struct {
	backend *MemBackend
	blob    *memBlob
	closed  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed blob")
	}
	w.backend.mu.Lock()
	w.blob.data = append(w.blob.data, p...)
	w.backend.mu.Unlock()
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
