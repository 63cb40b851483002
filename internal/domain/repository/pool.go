package repository

import (
	"context"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// BlobPool stores opaque blobs across the pooled storage accounts.
type BlobPool interface {
	// Put uploads a local file and returns where it was stored.
	Put(ctx context.Context, localPath, mediaType, name string) (model.BlobRef, error)

	// Get downloads a blob into destPath and returns the ref it was found
	// under, which differs from ref when the blob had drifted accounts.
	Get(ctx context.Context, ref model.BlobRef, destPath string) (model.BlobRef, error)

	// Delete removes a blob on a best-effort basis.
	Delete(ctx context.Context, ref model.BlobRef)

	// Locate finds which account holds remoteID.
	Locate(ctx context.Context, remoteID string) (model.BlobRef, ObjectInfo, error)
}
