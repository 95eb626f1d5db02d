package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// AuthMiddleware resolves the bearer access token to its user and attaches
// the user to the request context
func AuthMiddleware(authService *auth.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			user, _, err := authService.Authenticate(r.Context(), token)
			if err != nil {
				status := apperr.KindOf(err).Status()
				msg := "invalid or expired token"
				if status >= http.StatusInternalServerError {
					msg = "an unexpected error occurred"
				}
				respondWithError(w, status, msg)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
