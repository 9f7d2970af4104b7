package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo describes one stored object.
type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Storage is an object store keyed by slash-separated paths.
type Storage interface {
	// Upload stores the contents of reader at path. A reader of path sees
	// either the previous object or the complete new one.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download opens the object at path. The caller closes it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes path. A missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is stored.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every object whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}
