package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"custos/internal/platform/jwtauth"
	"custos/pkg/requestcontext"
)

// TokenValidator validates a bearer token into claims.
type TokenValidator interface {
	Validate(tokenString string) (*jwtauth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and records the
// asserted actor in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "request without bearer token",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				unauthorized(w, "missing or malformed Authorization header")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "request with invalid token",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx = requestcontext.WithActorID(ctx, claims.ActorID)
			ctx = requestcontext.WithActorRole(ctx, claims.ActorRole)
			if claims.SessionID != "" {
				ctx = requestcontext.WithSessionID(ctx, claims.SessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`)) //nolint:errcheck
}
