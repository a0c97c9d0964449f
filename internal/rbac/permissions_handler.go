package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-live/internal/platform/httpx"
)

// PermissionsHandler exposes the permission catalog and resolved roles.
type PermissionsHandler struct {
	resolver *Resolver
	rbac     Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(resolver *Resolver, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{resolver: resolver, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermUsersManage, PermSystemMonitor))
		r.Get("/", h.listPermissions)
		r.Get("/roles", h.listRoles)
	})
}

type roleView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Inherits    []string `json:"inherits,omitempty"`
	Effective   []string `json:"effective_permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms := Catalog()
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	names := h.resolver.RoleNames()
	roles := make([]roleView, 0, len(names))
	for _, name := range names {
		role, _ := h.resolver.Role(name)
		roles = append(roles, roleView{
			Name:        role.Name,
			Description: role.Description,
			Inherits:    role.Inherits,
			Effective:   h.resolver.EffectivePermissions(name).Sorted(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}
