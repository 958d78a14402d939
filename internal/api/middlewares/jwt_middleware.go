package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/markdave123-py/diagnovet/internal/api/handlers"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/services"
)

type ctxKey struct{}

// UserIDFrom returns the user id attached by JWT, if any.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// JWT validates the Bearer token and attaches its user id to the request
// context. With an empty secret every request passes through unchanged.
func JWT(secret string, rs *handlers.Responder) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(tokenStr) == "" {
				rs.Error(w, r, apperr.Unauthorized("Token no proporcionado"))
				return
			}

			userID, err := services.ParseToken(key, strings.TrimSpace(tokenStr))
			if err != nil {
				rs.Error(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
