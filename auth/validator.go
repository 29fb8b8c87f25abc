// Package auth validates the HS256 bearer tokens issued to organization members.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/compliance-ledger/models"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")
)

// Config holds configuration for TokenValidator
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	// Leeway tolerates clock skew on exp and nbf
	Leeway time.Duration
}

// TokenValidator validates HMAC-signed JWTs
type TokenValidator struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewTokenValidator creates a new validator
func NewTokenValidator(config Config) (*TokenValidator, error) {
	if config.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}
	return &TokenValidator{
		secret:   []byte(config.Secret),
		issuer:   config.Issuer,
		audience: config.Audience,
		parser:   jwt.NewParser(opts...),
	}, nil
}

// ValidateToken validates a JWT token and returns parsed claims
func (v *TokenValidator) ValidateToken(_ context.Context, tokenString string) (*ParsedClaims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}
	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return nil, ErrInvalidAudience
	}

	return parseClaims(claims)
}

// Issue signs a token for the given member. Used by evidencectl and tests.
func (v *TokenValidator) Issue(orgID, userID uuid.UUID, role models.UserRole, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID: orgID.String(),
		Role:  string(role),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func containsAudience(audiences jwt.ClaimStrings, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}
