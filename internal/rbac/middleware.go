package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-live/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-live/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. The caller's
// role is read from the session loaded by the app middleware stack.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(granted PermissionSet) bool {
		return granted.ContainsAny(normalized...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(granted PermissionSet) bool {
		return granted.ContainsAll(normalized...)
	})
}

func (m Middleware) require(required []Permission, allowed func(PermissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, ok := m.currentRole(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if allowed(m.Resolver.EffectivePermissions(role)) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied", slog.String("role", role), slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (string, bool) {
	_, role, ok := shared.PrincipalFromContext(r.Context())
	return role, ok
}

func normalizePermissions(perms []Permission) []Permission {
	unique := make(map[Permission]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = Permission(strings.TrimSpace(strings.ToLower(string(p))))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
