// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and claim mapping

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("token-verifier-test-secret-32b!!")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate(Identity{
		UserID:         "user-123",
		OrganizationID: "org-1",
		Roles:          []string{"developer", "viewer"},
		Claims:         map[string]string{"department": "platform", "sub": "ignored"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	assert.Equal(t, "user-123", id.UserID)
	assert.Equal(t, "org-1", id.OrganizationID)
	assert.Equal(t, []string{"developer", "viewer"}, id.Roles)
	assert.Equal(t, map[string]string{"department": "platform"}, id.Claims)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("a-different-secret-of-32-bytes!!"))
	require.NoError(t, err)
	foreign, err := other.Generate(Identity{UserID: "u", OrganizationID: "o"}, time.Hour)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u", "org": "o", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", foreign},
		{"wrong algorithm", hs512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate(Identity{UserID: "u", OrganizationID: "o"}, -time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingClaims(t *testing.T) {
	verifier := newTestVerifier(t)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"no sub", jwt.MapClaims{"org": "o"}},
		{"no org", jwt.MapClaims{"sub": "u"}},
		{"empty sub", jwt.MapClaims{"sub": "", "org": "o"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claims["exp"] = time.Now().Add(time.Hour).Unix()
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString(testSecret)
			require.NoError(t, err)

			_, err = verifier.Verify(token)
			assert.ErrorIs(t, err, ErrMissingClaim)
		})
	}
}

func TestJWTVerifier_BadRoles(t *testing.T) {
	verifier := newTestVerifier(t)

	for name, roles := range map[string]any{
		"not an array":   "admin",
		"non-string role": []any{"admin", 7},
	} {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": "u", "org": "o", "roles": roles,
				"exp": time.Now().Add(time.Hour).Unix(),
			}).SignedString(testSecret)
			require.NoError(t, err)

			_, err = verifier.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIdentity_Roles(t *testing.T) {
	id := &Identity{Roles: []string{"viewer", "owner"}}
	assert.True(t, id.HasRole("viewer"))
	assert.False(t, id.HasRole("developer"))
	assert.True(t, id.IsAdmin())
	assert.False(t, (&Identity{Roles: []string{"viewer"}}).IsAdmin())
}
