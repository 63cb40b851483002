package repository

import (
	"context"
	"io"
	"time"
)

// ObjectStorage is one storage account's view of its provider.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
// Provider throttling must be reported as an error wrapping ErrRateLimited.
type ObjectStorage interface {
	// Upload stores an object and makes it publicly fetchable.
	// size may be -1 when unknown.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download retrieves an object from the storage.
	// Returns ErrObjectNotFound if the key does not exist.
	// Caller is responsible for closing the returned ReadCloser.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object from the storage.
	Delete(ctx context.Context, key string) error

	// Stat returns object metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Usage reports the bytes currently stored, as counted by the provider.
	Usage(ctx context.Context) (int64, error)
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}
