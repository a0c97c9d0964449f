package shared

import (
	"context"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// PrincipalFromContext returns the authenticated principal and role carried
// by the request session. ok is false for anonymous or role-less sessions.
func PrincipalFromContext(ctx context.Context) (principalID, role string, ok bool) {
	sess := SessionFromContext(ctx)
	principalID = strings.TrimSpace(sess.User())
	role = strings.TrimSpace(sess.Role())
	if principalID == "" || role == "" {
		return "", "", false
	}
	return principalID, role, true
}
