package middleware

import (
	"net/http"
	"strings"

	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens TokenValidator
}

func NewJWTAuth(t TokenValidator) *JWTAuth {
	return &JWTAuth{tokens: t}
}

// bearerToken reads the Authorization header, falling back to the "token"
// query parameter because browsers cannot set headers on WebSocket dials.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the viewer token and injects its claims.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(tokenString)
		if err != nil {
			logger.DebugKV(r.Context(), "token rejected", "err", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithViewer(r.Context(), claims)
		ctx = logger.WithKV(ctx, "viewer", claims.ViewerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
