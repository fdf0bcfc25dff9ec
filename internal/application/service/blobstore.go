package service

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("blob: object not found")

type PutResult struct {
	Key  string
	URL  string
	Size int64
}

// BlobStore holds staged uploads and final artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error)
	// Get returns ErrObjectNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// StreamingBlobStore is implemented by stores that can move objects without
// holding them in memory. size may be -1 when unknown.
type StreamingBlobStore interface {
	BlobStore
	PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
}
