// Package auth validates RS256 bearer tokens. It is shared by the admin API
// middleware and the chat application, which checks the Authorization header
// of the WebSocket upgrade request before admitting a participant to a room.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends the standard jwt.RegisteredClaims with any application-
// specific fields that callers may need to inspect.
type Claims struct {
	jwt.RegisteredClaims
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key (PKIX or PKCS#1).
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse RSA public key: %w", err)
	}
	return key, nil
}

// VerifyBearer validates an "Authorization: Bearer <token>" header value
// against pubKey. The token must be RS256-signed and currently valid.
func VerifyBearer(pubKey *rsa.PublicKey, authHeader string) (*Claims, error) {
	if authHeader == "" {
		return nil, errors.New("auth: missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("auth: Authorization header must be Bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return pubKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}
