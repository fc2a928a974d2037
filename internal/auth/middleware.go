package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/orbit-hq/orbit/internal/shared"
)

// IdentityMiddleware resolves the session cookie into an Identity and stores
// it in the request context. Requests without a session pass through
// unauthenticated; the RBAC guards reject them downstream.
func IdentityMiddleware(sessions *SessionStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessions.TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := sessions.Get(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrNoSession) && logger != nil {
					logger.Error("load session", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
		})
	}
}
