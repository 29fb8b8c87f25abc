package contentstore

import (
	"context"
	"errors"

	"github.com/upb/compliance-ledger/services"
	"go.uber.org/zap"
)

// Store is the content-addressed evidence store. Identical bytes are stored once;
// every read is checked against its digest.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New creates a content store over backend
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// Put stores data and returns its digest. Storing bytes that already exist is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", services.ErrEmptyContent
	}

	digest := ComputeDigest(data)
	key, err := KeyForDigest(digest)
	if err != nil {
		return "", err
	}

	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return "", asStorageError("failed to check content", err)
	}
	if exists {
		stored, err := s.backend.Read(ctx, key)
		switch {
		case err == nil && Verify(digest, stored):
			s.logger.Debug("content already stored", zap.String("digest", digest))
			return digest, nil
		case err == nil:
			s.logger.Warn("stored content failed digest verification, rewriting",
				zap.String("digest", digest),
				zap.String("actual", ComputeDigest(stored)))
		case errors.Is(err, ErrBlobNotFound):
		default:
			return "", asStorageError("failed to verify stored content", err)
		}
	}

	if err := s.backend.Write(ctx, key, data); err != nil {
		return "", asStorageError("failed to write content", err)
	}

	s.logger.Debug("content stored", zap.String("digest", digest), zap.Int("size", len(data)))
	return digest, nil
}

// Get returns the bytes stored under digest after verifying them
func (s *Store) Get(ctx context.Context, digest string) ([]byte, error) {
	key, err := KeyForDigest(digest)
	if err != nil {
		return nil, err
	}

	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, services.ErrContentNotFound.Message, err).
				WithDetail("digest", digest)
		}
		return nil, asStorageError("failed to read content", err)
	}

	if !Verify(digest, data) {
		s.logger.Error("content failed digest verification",
			zap.String("digest", digest),
			zap.String("actual", ComputeDigest(data)))
		return nil, services.NewDomainError(services.ErrorTypeIntegrityViolation, services.ErrIntegrityViolation.Message, nil).
			WithDetail("digest", digest)
	}
	return data, nil
}

// Exists reports whether content with digest is stored
func (s *Store) Exists(ctx context.Context, digest string) (bool, error) {
	key, err := KeyForDigest(digest)
	if err != nil {
		return false, err
	}
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return false, asStorageError("failed to check content", err)
	}
	return exists, nil
}

// Verify reports whether data hashes to digest
func (s *Store) Verify(digest string, data []byte) bool {
	return Verify(digest, data)
}

// asStorageError keeps domain errors from the backend and wraps anything else
// as a storage failure
func asStorageError(message string, err error) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return services.WrapStorage(message, err)
}
