package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves blobs as flat files under a base directory. Names are
// reduced to their base component so a caller-supplied name can never escape
// the directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes a blob to disk.
func (f *FileStore) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	out, err := os.Create(f.path(name))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open opens a stored blob for reading.
func (f *FileStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(name))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob.
func (f *FileStore) Delete(_ context.Context, name string) error {
	if err := os.Remove(f.path(name)); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Size reports the stored byte size of a blob.
func (f *FileStore) Size(_ context.Context, name string) (int64, error) {
	info, err := os.Stat(f.path(name))
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.basePath, filepath.Base(strings.TrimSpace(name)))
}
