package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/arciva/arciva-backend/internal/pkg/response"
)

type contextKey string

// UserIDKey holds the authenticated owner id in the request context.
const UserIDKey contextKey = "user_id"

// Identity trusts the X-User-ID header set by the upstream auth layer.
// Session and credential management live outside this service; the
// pipeline only needs a stable owner id for ownership checks.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		userID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid X-User-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the owner id from context
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
