// Package blobstore implements the BlobStore external interface
// (spec.md §6): fetching and storing the source document bytes an
// extraction job operates on, behind a backend-agnostic contract so the
// rest of the orchestrator never imports AWS SDK types directly.
package blobstore

import "context"

// FileInfo describes one file within a dataset, as returned by ListFiles.
type FileInfo struct {
	Name         string
	Size         int64
	LastModified int64 // unix seconds
}

// BlobStore fetches and stores document bytes by key. Keys are
// caller-assigned opaque strings (typically "source/dataset/filename").
type BlobStore interface {
	// Get returns the full contents addressed by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data at key, creating or overwriting it.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Exists reports whether key is present without fetching its contents.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListFiles lists every file under the (source, dataset) prefix, so
	// JobManager.Start can discover a job's input set without the caller
	// having to enumerate it.
	ListFiles(ctx context.Context, source, dataset string) ([]FileInfo, error)
	// DatasetExists reports whether any file exists under the (source,
	// dataset) prefix.
	DatasetExists(ctx context.Context, source, dataset string) (bool, error)
}

// Key builds the opaque blob key for one file within a dataset.
func Key(source, dataset, filename string) string {
	return source + "/" + dataset + "/" + filename
}
