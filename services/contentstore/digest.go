package contentstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/upb/compliance-ledger/services"
)

// DigestPrefix marks the hash algorithm of every digest
const DigestPrefix = "sha256:"

// ComputeDigest returns the sha256:<hex> digest of data
func ComputeDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// ParseDigest validates a digest and returns its lowercase hex part
func ParseDigest(digest string) (string, error) {
	if !strings.HasPrefix(digest, DigestPrefix) {
		return "", services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidDigest.Message, nil).
			WithDetail("digest", digest)
	}
	raw := digest[len(DigestPrefix):]
	if len(raw) != sha256.Size*2 {
		return "", services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidDigest.Message, nil).
			WithDetail("digest", digest)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidDigest.Message, err).
			WithDetail("digest", digest)
	}
	return strings.ToLower(raw), nil
}

// Verify reports whether data hashes to digest
func Verify(digest string, data []byte) bool {
	return subtle.ConstantTimeCompare([]byte(ComputeDigest(data)), []byte(strings.ToLower(digest))) == 1
}

// KeyForDigest is the backend key of a content object: <hex[:2]>/<hex>.blob
func KeyForDigest(digest string) (string, error) {
	raw, err := ParseDigest(digest)
	if err != nil {
		return "", err
	}
	return raw[:2] + "/" + raw + ".blob", nil
}
