package contentstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/internal/retry"
	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

type flakyBackend struct {
	*MemoryBackend
	failures int
	calls    int
}

func (b *flakyBackend) Write(ctx context.Context, key string, data []byte) error {
	b.calls++
	if b.calls <= b.failures {
		return services.WrapStorage("write", errors.New("connection reset by peer"))
	}
	return b.MemoryBackend.Write(ctx, key, data)
}

func (b *flakyBackend) Read(ctx context.Context, key string) ([]byte, error) {
	b.calls++
	return b.MemoryBackend.Read(ctx, key)
}

func fastRetry(n int) *retry.Config {
	return &retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryingBackend_RetriesTransientFailures(t *testing.T) {
	flaky := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 2}
	backend := WithRetry(flaky, fastRetry(3), zap.NewNop())

	require.NoError(t, backend.Write(context.Background(), "ab/x.blob", []byte("x")))
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingBackend_GivesUp(t *testing.T) {
	flaky := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 10}
	backend := WithRetry(flaky, fastRetry(2), zap.NewNop())

	err := backend.Write(context.Background(), "ab/x.blob", []byte("x"))
	assert.True(t, services.IsStorageUnavailableError(err))
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingBackend_NotFoundIsPermanent(t *testing.T) {
	flaky := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	backend := WithRetry(flaky, fastRetry(3), zap.NewNop())

	// digits in the key must not be mistaken for a 5xx status
	_, err := backend.Read(context.Background(), "50/503500.blob")
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryConfig(t *testing.T) {
	cfg := RetryConfig(config.EvidenceConfig{RetryAttempts: 5, RetryBaseDelay: 50 * time.Millisecond})

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
}

func TestNewBackend_Memory(t *testing.T) {
	backend, err := NewBackend(context.Background(), config.StorageConfig{Type: config.StorageMemory}, config.EvidenceConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)

	_, err = NewBackend(context.Background(), config.StorageConfig{Type: "ftp"}, config.EvidenceConfig{}, zap.NewNop())
	assert.Error(t, err)
}
