// Package blobstore persists opaque encrypted blobs per account.
//
// Local is the source of correctness: writes are synchronous and crash-atomic.
// Remote is a replica reached over I/O that may be slow, fail or time out;
// the reconciliation layer never lets a Remote failure reach the caller.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists under a name.
var ErrNotFound = errors.New("blobstore: not found")

// Local is synchronous on-device storage.
type Local interface {
	// Read returns the blob or an error wrapping ErrNotFound.
	Read(name string) ([]byte, error)

	// Write replaces the blob atomically.
	Write(name string, data []byte) error

	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(name string) error
}

// Remote is a replica of the local blobs.
type Remote interface {
	// Load returns the blob or an error wrapping ErrNotFound.
	Load(ctx context.Context, id string) ([]byte, error)

	// Store replaces the blob.
	Store(ctx context.Context, id string, data []byte) error

	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(ctx context.Context, id string) error
}
