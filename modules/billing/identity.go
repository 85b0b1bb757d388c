package billing

import (
	"context"
	"net/http"
	"strings"
)

// DefaultIdentityHeader carries the opaque user id set by the identity
// gateway in front of this service.
const DefaultIdentityHeader = "X-User-ID"

type userIDKey struct{}

// WithUserID stores the external user id in ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext returns the external user id, or "" if none.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Identity rejects requests without a user id in header.
func Identity(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" {
				writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{
					Code:    "unauthenticated",
					Message: "Missing user identity.",
				}})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}
