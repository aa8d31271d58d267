package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/app"
	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedUserContextKey = ContextKey("authenticatedUser")

// AuthenticatedUser is the identity attached to the request context after a
// successful token check.
type AuthenticatedUser struct {
	ID   uuid.UUID
	Role domain.Role
}

// TokenValidator verifies an access token and returns its claims.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*app.AccessClaims, error)
}

// AuthMiddleware validates the Bearer token locally and puts the
// AuthenticatedUser on the request context.
func AuthMiddleware(validator TokenValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateAccessToken(parts[1])
			if err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				logger.WarnContext(r.Context(), "Token subject is not a UUID", "subject", claims.Subject)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			authUser := AuthenticatedUser{
				ID:   userID,
				Role: domain.Role(claims.Role),
			}
			ctx := context.WithValue(r.Context(), AuthenticatedUserContextKey, authUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects requests whose authenticated role is not in the allow
// list. AuthMiddleware must run first.
func RequireRoles(logger *slog.Logger, roles ...domain.Role) func(next http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser, ok := UserFromContext(r.Context())
			if !ok {
				logger.ErrorContext(r.Context(), "AuthenticatedUser not found in context. AuthMiddleware must run first.")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if _, ok := allowed[authUser.Role]; !ok {
				logger.WarnContext(r.Context(), "Role not permitted",
					"user_id", authUser.ID, "role", authUser.Role)
				http.Error(w, "Forbidden: your role cannot perform this action", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext extracts the authenticated user placed by AuthMiddleware.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	authUser, ok := ctx.Value(AuthenticatedUserContextKey).(AuthenticatedUser)
	return authUser, ok
}
