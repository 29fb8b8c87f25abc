package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidRole is returned when the role claim names no known role
	ErrInvalidRole = errors.New("invalid role claim")
)

// Claims represents the claims carried by a bearer token
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Role      models.UserRole
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Actor returns the identity core operations run as
func (p *ParsedClaims) Actor() models.Actor {
	return models.Actor{OrgID: p.OrgID, UserID: p.UserID, Role: p.Role}
}

// parseClaims converts Claims to ParsedClaims with proper type conversions
func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	if claims.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id", ErrMissingClaim)
	}
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return nil, fmt.Errorf("invalid org_id UUID: %w", err)
	}

	role := models.UserRole(claims.Role)
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}

	parsed := &ParsedClaims{
		UserID: sub,
		OrgID:  orgID,
		Role:   role,
		Email:  claims.Email,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	return parsed, nil
}
