package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/compliance-ledger/models"
)

const testSecret = "test-secret"

func newTestValidator(t *testing.T, issuer, audience string) *TokenValidator {
	t.Helper()
	v, err := NewTokenValidator(Config{Secret: testSecret, Issuer: issuer, Audience: audience})
	require.NoError(t, err)
	return v
}

// signClaims signs arbitrary claims with the test secret
func signClaims(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(orgID, userID uuid.UUID, role string) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    "compliance-ledger",
			Audience:  jwt.ClaimStrings{"api"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		OrgID: orgID.String(),
		Role:  role,
		Email: "founder@acme.test",
	}
}

func TestNewTokenValidator_RequiresSecret(t *testing.T) {
	_, err := NewTokenValidator(Config{})
	assert.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	ctx := context.Background()
	v := newTestValidator(t, "compliance-ledger", "api")
	orgID, userID := uuid.New(), uuid.New()

	t.Run("valid token", func(t *testing.T) {
		token := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(orgID, userID, "Founder"))

		parsed, err := v.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, orgID, parsed.OrgID)
		assert.Equal(t, userID, parsed.UserID)
		assert.Equal(t, models.RoleFounder, parsed.Role)
		assert.Equal(t, "founder@acme.test", parsed.Email)
		assert.Equal(t, models.Actor{OrgID: orgID, UserID: userID, Role: models.RoleFounder}, parsed.Actor())
	})

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name: "expired",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "missing expiry",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.ExpiresAt = nil
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				return signClaims(t, jwt.SigningMethodHS256, []byte("other"), validClaims(orgID, userID, "Admin"))
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "other hmac algorithm",
			token: func() string {
				return signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(orgID, userID, "Admin"))
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "unsigned",
			token: func() string {
				return signClaims(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims(orgID, userID, "Admin"))
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.Issuer = "someone-else"
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidIssuer,
		},
		{
			name: "wrong audience",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.Audience = jwt.ClaimStrings{"web"}
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidAudience,
		},
		{
			name: "unknown role",
			token: func() string {
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(orgID, userID, "Viewer"))
			},
			wantErr: ErrInvalidRole,
		},
		{
			name: "missing org",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.OrgID = ""
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrMissingClaim,
		},
		{
			name: "missing subject",
			token: func() string {
				c := validClaims(orgID, userID, "Admin")
				c.Subject = ""
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrMissingClaim,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(ctx, tt.token())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("malformed org id", func(t *testing.T) {
		c := validClaims(orgID, userID, "Admin")
		c.OrgID = "acme"
		_, err := v.ValidateToken(ctx, signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIssue_RoundTrip(t *testing.T) {
	v := newTestValidator(t, "compliance-ledger", "api")
	orgID, userID := uuid.New(), uuid.New()

	token, err := v.Issue(orgID, userID, models.RoleAuditor, time.Hour)
	require.NoError(t, err)

	parsed, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuditor, parsed.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), parsed.ExpiresAt, 5*time.Second)
}

func TestValidateToken_NoIssuerOrAudienceConfigured(t *testing.T) {
	v := newTestValidator(t, "", "")
	c := validClaims(uuid.New(), uuid.New(), "Contributor")
	c.Issuer = "anything"
	c.Audience = nil

	parsed, err := v.ValidateToken(context.Background(), signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), c))
	require.NoError(t, err)
	assert.Equal(t, models.RoleContributor, parsed.Role)
}
