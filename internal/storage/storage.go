// Package storage defines the archive Storage interface used by the retention job to keep
// expired log entries after they leave the database.
//
// Backends register themselves with the factory from an init() function in their own
// package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.ArchiveConfig) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// and are linked in with a blank import (see internal/api/router.go).
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Download when no object exists at the path.
var ErrNotFound = errors.New("archive object not found")

// Storage holds archive objects addressed by slash-separated paths.
type Storage interface {
	// Upload stores an object and returns its path, size and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens an object for reading
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the objects under prefix ordered by path
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path string
	Size int64
	// Checksum is the hex SHA256 of the object contents
	Checksum string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
