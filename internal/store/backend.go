// Package store provides the flat, name-addressed blob backends that hold
// cache blocks and their state markers.
package store

import (
	"io"
	"io/fs"
)

// ErrNotExist is returned when a named blob is absent.
var ErrNotExist = fs.ErrNotExist

// Backend is a flat namespace of named blobs. State transitions are expressed
// as Touch(new) followed by Remove(old), so a backend only needs to make a
// single Touch or Rename durable to keep recovery consistent.
type Backend interface {
	// Create opens a new blob for writing, truncating any existing blob.
	Create(name string) (io.WriteCloser, error)
	// Open opens a blob for reading.
	Open(name string) (io.ReadSeekCloser, error)
	// Size returns the current length of a blob.
	Size(name string) (int64, error)
	// Touch creates an empty marker blob.
	Touch(name string) error
	// Rename atomically moves a blob to a new name.
	Rename(oldName, newName string) error
	// Remove deletes a blob. Removing a missing blob is not an error.
	Remove(name string) error
	// List returns every blob name.
	List() ([]string, error)
}
