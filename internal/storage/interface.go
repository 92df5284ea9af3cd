package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// EnsureBucket verifies the bucket exists, creating it when missing
	EnsureBucket(ctx context.Context) error

	// Bucket returns the bucket name objects are stored under
	Bucket() string

	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the public URL for accessing an object. The URL is
	// derived from a fixed template, no round-trip to storage is needed.
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// ListPrefix returns the keys of all objects under the given prefix
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}
