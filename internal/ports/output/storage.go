package output

import "context"

// DatasetStore defines the secondary port for fetching layer datasets
// from object storage into the local data directory.
type DatasetStore interface {
	// List returns all dataset files in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download downloads a dataset file to the local filesystem.
	Download(ctx context.Context, key string, dest string) error
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
