package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the engine distinguishes: holders may trigger
// maintenance runs, retention sweeps and read coverage statistics.
const RoleAdmin = "admin"

// Claims extends standard registered claims with role information.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAdmin guards the maintenance surface: only tokens carrying RoleAdmin
// pass.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return Middleware(secret, RoleAdmin)
}

// Middleware validates HMAC-signed JWT tokens, enforces an optional role
// allowlist and injects claims into the request context.
func Middleware(secret string, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromHeader(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[claims.Role]; !ok {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves claims from context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

type claimsKey struct{}

func tokenFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
