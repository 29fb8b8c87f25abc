// Package ratelimit throttles mutating requests per organization.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Policy is a token bucket refilled at RequestsPerMinute and holding at most Burst tokens
type Policy struct {
	RequestsPerMinute int
	Burst             int
}

// perSecond returns the refill rate
func (p Policy) perSecond() float64 {
	if p.RequestsPerMinute <= 0 {
		return 1
	}
	return float64(p.RequestsPerMinute) / 60.0
}

func (p Policy) capacity() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// Store takes one token from the bucket identified by key
type Store interface {
	Take(ctx context.Context, key string, policy Policy) (*RateLimitResult, error)
}

// RateLimitService applies one policy to every organization. When the primary
// store fails the request is checked against the local fallback instead.
type RateLimitService struct {
	store    Store
	fallback Store
	policy   Policy
	logger   *zap.Logger
}

// NewRateLimitService creates a new RateLimitService instance. fallback may be nil.
func NewRateLimitService(store, fallback Store, policy Policy, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		store:    store,
		fallback: fallback,
		policy:   policy,
		logger:   logger,
	}
}

// CheckLimit consumes one request of the organization's budget for scope
func (s *RateLimitService) CheckLimit(ctx context.Context, orgID uuid.UUID, scope string) (*RateLimitResult, error) {
	key := s.buildScopeKey(orgID, scope)

	result, err := s.store.Take(ctx, key, s.policy)
	if err == nil {
		return result, nil
	}
	if s.fallback == nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	s.logger.Warn("rate limit store unavailable, using local limiter",
		zap.String("org_id", orgID.String()),
		zap.Error(err))
	return s.fallback.Take(ctx, key, s.policy)
}

// buildScopeKey builds a unique key for the rate limit scope
func (s *RateLimitService) buildScopeKey(orgID uuid.UUID, scope string) string {
	if scope == "" {
		return fmt.Sprintf("org:%s", orgID.String())
	}
	return fmt.Sprintf("org:%s:%s", orgID.String(), scope)
}
