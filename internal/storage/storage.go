// Package storage provides access to record streams kept on the local
// filesystem or in S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrOpenFailed     = errors.New("open failed")
)

// StreamStorage abstracts where framed record streams live.
// Implementations include S3 and the local filesystem.
type StreamStorage interface {
	// Open returns a reader over the object's bytes. The caller closes it.
	// Returns ErrObjectNotFound when the object does not exist.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Upload copies a local file into storage.
	// localPath is the path to the local file to upload.
	// objectPath is the destination path in storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
