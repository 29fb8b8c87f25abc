package contentstore

import (
	"context"
	"fmt"

	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/internal/retry"
	"go.uber.org/zap"
)

// NewBackend builds the backend selected by cfg.Type, wrapped with retries
func NewBackend(ctx context.Context, cfg config.StorageConfig, evidence config.EvidenceConfig, logger *zap.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.Type {
	case config.StorageFS:
		backend, err = NewFSBackend(cfg.Dir)
	case config.StorageS3:
		backend, err = NewS3Backend(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case config.StorageGCS:
		backend, err = NewGCSBackend(ctx, cfg.Bucket, cfg.Prefix)
	case config.StorageMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("blob storage configured",
		zap.String("type", cfg.Type),
		zap.String("bucket", cfg.Bucket),
		zap.String("dir", cfg.Dir))

	return WithRetry(backend, RetryConfig(evidence), logger), nil
}

// RetryConfig derives the backoff settings from the evidence config
func RetryConfig(evidence config.EvidenceConfig) *retry.Config {
	cfg := retry.DefaultConfig()
	if evidence.RetryAttempts >= 0 {
		cfg.MaxRetries = evidence.RetryAttempts
	}
	if evidence.RetryBaseDelay > 0 {
		cfg.InitialDelay = evidence.RetryBaseDelay
		if cfg.MaxDelay < evidence.RetryBaseDelay {
			cfg.MaxDelay = 25 * evidence.RetryBaseDelay
		}
	}
	return cfg
}
