package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/services/ratelimit"
	"github.com/upb/compliance-ledger/utils"
	"go.uber.org/zap"
)

// RateLimitChecker defines the interface for rate limit checking
type RateLimitChecker interface {
	CheckLimit(ctx context.Context, orgID uuid.UUID, scope string) (*ratelimit.RateLimitResult, error)
}

// RateLimitMiddleware throttles mutating requests per organization
type RateLimitMiddleware struct {
	limiter RateLimitChecker
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware
func NewRateLimitMiddleware(limiter RateLimitChecker, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// LimitWrites charges POST, PUT, PATCH and DELETE requests to the caller's
// organization. It must run after RequireAuth.
func (m *RateLimitMiddleware) LimitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)
		orgID := GetOrgIDFromContext(ctx)
		if orgID == uuid.Nil {
			_ = utils.WriteUnauthorized(w, "Missing tenant information")
			return
		}

		result, err := m.limiter.CheckLimit(ctx, orgID, "write")
		if err != nil {
			// the limiter must not take the API down with it
			m.logger.Error("failed to check rate limit",
				zap.String("request_id", requestID),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			m.logger.Warn("request blocked by rate limit",
				zap.String("request_id", requestID),
				zap.String("org_id", orgID.String()))
			_ = utils.WriteTooManyRequests(w, "", map[string]interface{}{
				"retry_after_seconds": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
