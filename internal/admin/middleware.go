package admin

import (
	"context"
	"crypto/rsa"
	"net/http"

	"github.com/relaykit/relay/internal/auth"
)

// contextKey is an unexported type used to store values in request contexts,
// preventing collisions with keys from other packages.
type contextKey int

const (
	// claimsKey is the context key under which validated JWT claims are stored.
	claimsKey contextKey = iota
)

// JWTMiddleware returns an HTTP middleware that validates RS256 Bearer
// tokens against pubKey. On success the parsed claims are stored in the
// request context and the next handler is called; on any validation failure
// the middleware responds with HTTP 401 and does not call next.
func JWTMiddleware(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.VerifyBearer(pubKey, r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the JWT claims stored in ctx by JWTMiddleware.
// Returns nil if no claims are present (e.g. on unauthenticated routes).
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}
