package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/upb/compliance-ledger/services"
)

// FSBackend stores blobs as files under a root directory
type FSBackend struct {
	root string
}

// NewFSBackend creates the root directory if needed
func NewFSBackend(root string) (*FSBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage dir: %w", err)
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", services.NewDomainError(services.ErrorTypeValidation, "invalid blob key", nil).WithDetail("key", key)
	}
	return filepath.Join(b.root, clean), nil
}

// Exists reports whether a file exists for key
func (b *FSBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, services.WrapStorage("stat blob", err)
}

// Write stores data with a temp file and rename, so readers never see a partial blob
func (b *FSBackend) Write(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.WrapStorage("create blob dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return services.WrapStorage("create staging file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return services.WrapStorage("write staging file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return services.WrapStorage("sync staging file", err)
	}
	if err := tmp.Close(); err != nil {
		return services.WrapStorage("close staging file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return services.WrapStorage("publish blob", err)
	}
	return nil
}

// Read returns the file contents for key
func (b *FSBackend) Read(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, services.WrapStorage("read blob", err)
	}
	return data, nil
}
