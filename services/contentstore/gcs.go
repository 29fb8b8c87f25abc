//go:build gcp

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/upb/compliance-ledger/services"
)

// GCSBackend stores blobs as Google Cloud Storage objects
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend creates a client from application default credentials
func NewGCSBackend(ctx context.Context, bucket, prefix string) (Backend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *GCSBackend) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.prefix + key)
}

// Exists reads the object attributes
func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, services.WrapStorage("gcs attrs failed", err)
}

// Write uploads data. The object becomes visible only when the writer is closed.
func (b *GCSBackend) Write(ctx context.Context, key string, data []byte) error {
	w := b.object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return services.WrapStorage("gcs write failed", err)
	}
	if err := w.Close(); err != nil {
		return services.WrapStorage("gcs close failed", err)
	}
	return nil
}

// Read downloads the object
func (b *GCSBackend) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := b.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(key)
		}
		return nil, services.WrapStorage("gcs read failed", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, services.WrapStorage("gcs read failed", err)
	}
	return data, nil
}
