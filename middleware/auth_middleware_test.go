package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/compliance-ledger/auth"
	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/ratelimit"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*auth.ParsedClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ParsedClaims), args.Error(1)
}

// MockRateLimitChecker is a mock implementation of RateLimitChecker
type MockRateLimitChecker struct {
	mock.Mock
}

func (m *MockRateLimitChecker) CheckLimit(ctx context.Context, orgID uuid.UUID, scope string) (*ratelimit.RateLimitResult, error) {
	args := m.Called(ctx, orgID, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ratelimit.RateLimitResult), args.Error(1)
}

func testClaims() *auth.ParsedClaims {
	return &auth.ParsedClaims{
		UserID: uuid.New(),
		OrgID:  uuid.New(),
		Role:   models.RoleContributor,
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token attaches the actor", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		claims := testClaims()
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			assert.Equal(t, claims.OrgID, actor.OrgID)
			assert.Equal(t, claims.UserID, actor.UserID)
			assert.Equal(t, models.RoleContributor, actor.Role)
			assert.Equal(t, claims.OrgID, GetOrgIDFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("lowercase scheme is accepted", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "tok").Return(testClaims(), nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz"},
		{name: "scheme only", header: "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name+" returns 401", func(t *testing.T) {
			mockValidator := new(MockTokenValidator)
			middleware := NewAuthMiddleware(mockValidator, logger)

			handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			mockValidator.AssertNotCalled(t, "ValidateToken")
		})
	}

	t.Run("rejected token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "expired").Return(nil, auth.ErrTokenExpired)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer expired")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
	})
}

func TestActorFromContext_Unauthenticated(t *testing.T) {
	assert.Equal(t, models.Actor{}, ActorFromContext(context.Background()))
	assert.Equal(t, uuid.Nil, GetOrgIDFromContext(context.Background()))
}

func TestLimitWrites(t *testing.T) {
	logger := zap.NewNop()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("reads are not charged", func(t *testing.T) {
		checker := new(MockRateLimitChecker)
		handler := NewRateLimitMiddleware(checker, logger).LimitWrites(ok)

		req := httptest.NewRequest(http.MethodGet, "/controls", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		checker.AssertNotCalled(t, "CheckLimit")
	})

	t.Run("allowed write carries headers", func(t *testing.T) {
		claims := testClaims()
		checker := new(MockRateLimitChecker)
		checker.On("CheckLimit", mock.Anything, claims.OrgID, "write").
			Return(&ratelimit.RateLimitResult{Allowed: true, Limit: 20, Remaining: 19}, nil)
		handler := NewRateLimitMiddleware(checker, logger).LimitWrites(ok)

		req := httptest.NewRequest(http.MethodPost, "/exports", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
		checker.AssertExpectations(t)
	})

	t.Run("denied write returns 429", func(t *testing.T) {
		claims := testClaims()
		checker := new(MockRateLimitChecker)
		checker.On("CheckLimit", mock.Anything, claims.OrgID, "write").
			Return(&ratelimit.RateLimitResult{Limit: 20, RetryAfter: 1500 * time.Millisecond}, nil)
		handler := NewRateLimitMiddleware(checker, logger).LimitWrites(ok)

		req := httptest.NewRequest(http.MethodDelete, "/tasks/x", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		claims := testClaims()
		checker := new(MockRateLimitChecker)
		checker.On("CheckLimit", mock.Anything, claims.OrgID, "write").Return(nil, errors.New("boom"))
		handler := NewRateLimitMiddleware(checker, logger).LimitWrites(ok)

		req := httptest.NewRequest(http.MethodPut, "/policies/x", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unauthenticated write returns 401", func(t *testing.T) {
		checker := new(MockRateLimitChecker)
		handler := NewRateLimitMiddleware(checker, logger).LimitWrites(ok)

		req := httptest.NewRequest(http.MethodPost, "/exports", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
