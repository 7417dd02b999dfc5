// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// reserved claims are consumed by Verify and never copied into Identity.Claims.
var reserved = map[string]bool{
	"sub": true, "org": true, "roles": true,
	"iat": true, "exp": true, "nbf": true, "iss": true, "aud": true, "jti": true,
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Verify validates the token and builds the caller's Identity.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	id := &Identity{Claims: map[string]string{}}
	if id.UserID, _ = claims["sub"].(string); id.UserID == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if id.OrganizationID, _ = claims["org"].(string); id.OrganizationID == "" {
		return nil, fmt.Errorf("%w: org", ErrMissingClaim)
	}

	switch roles := claims["roles"].(type) {
	case nil:
	case []any:
		for _, r := range roles {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: roles must be strings", ErrInvalidToken)
			}
			id.Roles = append(id.Roles, name)
		}
	default:
		return nil, fmt.Errorf("%w: roles must be an array", ErrInvalidToken)
	}

	for k, val := range claims {
		if reserved[k] {
			continue
		}
		if s, ok := val.(string); ok {
			id.Claims[k] = s
		}
	}
	return id, nil
}

// Generate signs a token for id that expires after expiresIn.
func (v *JWTVerifier) Generate(id Identity, expiresIn time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"org": id.OrganizationID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if len(id.Roles) > 0 {
		claims["roles"] = id.Roles
	}
	for k, val := range id.Claims {
		if !reserved[k] {
			claims[k] = val
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
