package middleware

import (
	"net/http"

	"github.com/solvereign/backend/internal/apperr"
	"github.com/solvereign/backend/internal/session"
)

// Auth validates the session cookie and injects the SessionContext. Requests
// without a valid session fail closed with AUTH_REQUIRED.
func Auth(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessions.CookieName())
			if err != nil {
				WriteError(w, r, apperr.AuthRequired())
				return
			}
			sc, err := sessions.Validate(r.Context(), cookie.Value)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sc)))
		})
	}
}

// RequirePermission guards a single route with an RBAC key. The auth
// middleware must already have run.
func RequirePermission(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := session.FromContext(r.Context())
		if err != nil {
			WriteError(w, r, apperr.AuthRequired())
			return
		}
		if err := session.RequirePermission(sc, key); err != nil {
			WriteError(w, r, err)
			return
		}
		next(w, r)
	}
}
