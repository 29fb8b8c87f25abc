package contentstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps blobs in a map. Used by tests and the memory driver.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

// Exists reports whether key is stored
func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blobs[key]
	return ok, nil
}

// Write stores a copy of data
func (b *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Read returns a copy of the stored bytes
func (b *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes key. Only tests simulate lost content with it.
func (b *MemoryBackend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
}

// Len returns the number of stored blobs
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
