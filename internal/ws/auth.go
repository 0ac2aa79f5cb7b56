package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("authToken is required")

// Authenticator verifies the authToken of connection_init as an HMAC-signed
// JWT.
type Authenticator struct {
	secret   []byte
	required bool
}

// NewAuthenticator returns nil when secret is empty, which disables
// verification.
func NewAuthenticator(secret string, required bool) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), required: required}
}

// Verify returns the subject of a valid token. An empty token is accepted
// as anonymous unless tokens are required.
func (a *Authenticator) Verify(token string) (string, error) {
	if a == nil {
		return "", nil
	}
	if token == "" {
		if a.required {
			return "", errMissingToken
		}
		return "", nil
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name, jwt.SigningMethodHS512.Name}))
	if err != nil {
		return "", fmt.Errorf("invalid authToken: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("invalid authToken")
	}
	return claims.Subject, nil
}

// SignToken issues an HS256 token for subject, valid for ttl (no expiry when
// ttl is zero).
func SignToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
