package storage

import (
	"context"
	"io"
)

// BlobStore abstracts where attachment bytes live. Metadata rows stay in the
// relational store; only opaque blobs pass through here.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Size(ctx context.Context, name string) (int64, error)
}
