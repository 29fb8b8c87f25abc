// Package contentstore keeps evidence bytes addressed by their sha256 digest.
package contentstore

import (
	"context"
	"errors"
)

// ErrBlobNotFound is matched by the error backends return when no object exists under a key
var ErrBlobNotFound = errors.New("blob not found")

// Backend is a flat key/value blob store. Write must be atomic: a reader sees
// either nothing or the complete object. Transient failures are reported as
// services storage_unavailable errors so they can be retried.
type Backend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

type blobNotFoundError struct {
	key string
}

func (e *blobNotFoundError) Error() string { return "blob " + e.key + " not found" }

func (e *blobNotFoundError) Is(target error) bool { return target == ErrBlobNotFound }

// IsRetryable keeps retry from matching digits of the key against status codes
func (e *blobNotFoundError) IsRetryable() bool { return false }

func notFound(key string) error {
	return &blobNotFoundError{key: key}
}
