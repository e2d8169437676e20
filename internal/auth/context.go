package auth

import "context"

type contextKey int

const userIDKey contextKey = iota

// WithUserID binds the authenticated user to a request context. The server
// sets this after API key validation; tools read it back per invocation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user bound to the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
