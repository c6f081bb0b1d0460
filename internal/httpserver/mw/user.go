package mw

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

// UserHeader carries the caller's local identity, set by the fronting app.
const UserHeader = "X-User-ID"

const maxUserIDLen = 128

type userKey struct{}

// UserIdentity resolves the local user for the request from X-User-ID,
// falling back to defaultUser. Requests with neither are rejected with 401.
func UserIdentity(defaultUser string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(UserHeader))
			if id == "" {
				id = defaultUser
			}
			if id == "" || len(id) > maxUserIDLen {
				log.Debugf("UserIdentity: rejected request to %s (header=%q)", r.URL.Path, r.Header.Get(UserHeader))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing_user"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns ctx carrying the local user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the user id set by UserIdentity, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
