package blobstore

import (
	"context"
	"io"
)

// Store is a durable key/value object store keyed by hierarchical string
// paths. It is the single source of truth for part-completion coordination:
// existence checks and idempotent overwrites replace any in-process lock,
// because callback handlers may run in separate processes with no shared
// memory.
type Store interface {
	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetJSON reads the object at key and unmarshals it into v. It returns
	// false with a nil error when the object does not exist.
	GetJSON(ctx context.Context, key string, v any) (bool, error)

	// PutJSON marshals v and writes it at key, overwriting any prior object.
	PutJSON(ctx context.Context, key string, v any) error

	// Put streams size bytes from r to key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns the keys of all objects under prefix.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}
