//go:build !gcp

package contentstore

import (
	"context"
	"fmt"
)

// NewGCSBackend is unavailable without the gcp build tag
func NewGCSBackend(_ context.Context, _, _ string) (Backend, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
