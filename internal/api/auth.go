package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/revq/revq/internal/storage"
)

type contextKey int

const userKey contextKey = iota

// UserStore resolves API callers from their bearer token.
type UserStore interface {
	UserByTokenHash(hash string) (storage.User, error)
}

// HashToken returns the stored form of an API token. Only hashes are
// persisted; presenting the token is the only way to authenticate.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerAuth resolves the calling user from the Authorization header and
// stores it in the request context. Unknown or inactive tokens get 401.
func BearerAuth(users UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			user, err := users.UserByTokenHash(HashToken(auth[len(prefix):]))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
					return
				}
				httpError(w, http.StatusInternalServerError, "api_error", "resolving user: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// RequireAdmin gates a subtree to admin callers. Non-admins get 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok || !user.IsAdmin() {
			httpError(w, http.StatusForbidden, "permission_error", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFrom returns the authenticated user stored by BearerAuth.
func UserFrom(ctx context.Context) (storage.User, bool) {
	user, ok := ctx.Value(userKey).(storage.User)
	return user, ok
}
