package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStorage writes bundles to a local directory. Suitable for single-node
// deployments and tests; production deployments typically use S3Storage.
type FSStorage struct {
	dir string
}

// NewFSStorage creates the directory if needed.
func NewFSStorage(dir string) (*FSStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FSStorage{dir: dir}, nil
}

// Write stores the bundle bytes and fsyncs before returning the location.
func (s *FSStorage) Write(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create bundle file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write bundle file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("sync bundle file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close bundle file: %w", err)
	}
	return path, nil
}

// Read returns the raw bundle bytes.
func (s *FSStorage) Read(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read bundle file: %w", err)
	}
	return data, nil
}
