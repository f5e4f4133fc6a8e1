// ABOUTME: Signed session cookie values: an HS256 JWT naming the browser's session id
// ABOUTME: Values signed with another secret, by another issuer, or past expiry are refused

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadSession means the cookie value is not a session this console issued.
	ErrBadSession = errors.New("unrecognised session cookie")

	// ErrSessionExpired means the cookie outlived its lifetime.
	ErrSessionExpired = errors.New("session cookie expired")
)

const issuer = "agent-console"

// JWTSigner signs and checks session cookie values with one shared secret.
type JWTSigner struct {
	secret []byte
}

// NewJWTSigner returns a signer keyed by secret.
func NewJWTSigner(secret []byte) *JWTSigner {
	return &JWTSigner{secret: secret}
}

// Generate returns a cookie value binding sessionID for ttl.
func (s *JWTSigner) Generate(sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the session id carried by a cookie value.
func (s *JWTSigner) Verify(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrSessionExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrBadSession, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: no session id", ErrBadSession)
	}
	return claims.Subject, nil
}
