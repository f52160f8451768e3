// Package coldstore adapts the durable object store that sits below the cache
// tiers. The cache reads misses from it and the write-back queue pushes
// written objects into it.
//
// Two implementations are provided:
//
//   - MemStore keeps objects in process memory. It backs tests and offline
//     tooling.
//   - S3Store talks to S3 or any S3 compatible endpoint through
//     aws-sdk-go-v2. Uploads are streamed through the multipart uploader, or
//     through the cargoship transporter when enabled. Stat results are cached
//     and concurrent lookups of one key are coalesced.
//
// Objects move through INCOMPLETE while a writer is open and become visible
// once the writer is completed. A writer closed without Complete aborts the
// upload and leaves any previous object untouched.
package coldstore

import (
	"context"
	"io"

	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Store is the cold storage contract used by the engine.
type Store interface {
	// Create opens a writer for a new version of the object. size is the
	// object length or -1 when unknown.
	Create(ctx context.Context, bucket, key string, size int64) (ObjectWriter, error)
	// Read streams [start, stop] of the object. A stop of -1 reads to the end.
	Read(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
	// Stat returns the size and modification time of the object.
	Stat(ctx context.Context, bucket, key string) (types.ObjectInfo, error)
	// List returns the objects of bucket whose key starts with prefix, in key
	// order.
	List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error)
}

// ObjectWriter streams one object into cold storage.
type ObjectWriter interface {
	io.Writer
	// Complete publishes the written bytes as the current object.
	Complete() error
	// Close releases the writer. Closing before Complete aborts the upload.
	Close() error
}
