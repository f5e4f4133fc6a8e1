// ABOUTME: Request context helpers carrying the verified session id
// ABOUTME: Populated by the SessionCookie middleware

package auth

import (
	"context"
)

type sessionIDKey struct{}

// WithSessionID returns a new context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id, or "" when none is attached.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
