package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/auth"
	"github.com/upb/compliance-ledger/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for validated token claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *auth.ParsedClaims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*auth.ParsedClaims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *auth.ParsedClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ActorFromContext returns the authenticated caller; the zero Actor when unauthenticated
func ActorFromContext(ctx context.Context) models.Actor {
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Actor()
	}
	return models.Actor{}
}

// GetOrgIDFromContext retrieves the organization ID from context
func GetOrgIDFromContext(ctx context.Context) uuid.UUID {
	return ActorFromContext(ctx).OrgID
}
