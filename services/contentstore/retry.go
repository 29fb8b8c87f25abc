package contentstore

import (
	"context"

	"github.com/upb/compliance-ledger/internal/retry"
	"go.uber.org/zap"
)

// RetryingBackend retries transient backend failures with exponential backoff
type RetryingBackend struct {
	next   Backend
	cfg    *retry.Config
	logger *zap.Logger
}

// WithRetry wraps next. Not-found and validation errors are returned immediately.
func WithRetry(next Backend, cfg *retry.Config, logger *zap.Logger) *RetryingBackend {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	return &RetryingBackend{next: next, cfg: cfg, logger: logger}
}

// Exists delegates with retry
func (b *RetryingBackend) Exists(ctx context.Context, key string) (bool, error) {
	return retry.DoWithResult(ctx, b.cfg, func() (bool, error) {
		return b.next.Exists(ctx, key)
	})
}

// Write delegates with retry. Writes are idempotent per key.
func (b *RetryingBackend) Write(ctx context.Context, key string, data []byte) error {
	_, err := retry.DoWithResult(ctx, b.cfg, func() (struct{}, error) {
		err := b.next.Write(ctx, key, data)
		if err != nil && retry.IsRetryable(err) {
			b.logger.Warn("blob write failed, retrying", zap.String("key", key), zap.Error(err))
		}
		return struct{}{}, err
	})
	return err
}

// Read delegates with retry
func (b *RetryingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithResult(ctx, b.cfg, func() ([]byte, error) {
		return b.next.Read(ctx, key)
	})
}
