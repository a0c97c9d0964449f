package rbac

import (
	"sort"
	"sync"
)

// Resolver computes effective permission sets from the static role table.
// Results are memoized for the lifetime of the resolver since roles never
// change once serving begins.
type Resolver struct {
	roles map[string]Role

	mu   sync.RWMutex
	memo map[string]PermissionSet
}

// NewResolver builds a Resolver over the roles of the given policy.
func NewResolver(policy *Policy) *Resolver {
	roles := make(map[string]Role)
	if policy != nil {
		for _, role := range policy.Roles {
			if _, dup := roles[role.Name]; dup {
				continue
			}
			roles[role.Name] = role
		}
	}
	return &Resolver{roles: roles, memo: make(map[string]PermissionSet)}
}

// Role returns the role definition by name.
func (r *Resolver) Role(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// RoleNames lists all role names in sorted order.
func (r *Resolver) RoleNames() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectivePermissions returns the direct permissions of role unioned with
// those of every role it inherits, transitively. Unknown roles resolve to an
// empty set. Cyclic hierarchies terminate because each role is expanded once.
// Callers must not mutate the returned set.
func (r *Resolver) EffectivePermissions(role string) PermissionSet {
	r.mu.RLock()
	cached, ok := r.memo[role]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	set := make(PermissionSet)
	r.expand(role, make(map[string]struct{}), set)

	r.mu.Lock()
	if existing, ok := r.memo[role]; ok {
		set = existing
	} else {
		r.memo[role] = set
	}
	r.mu.Unlock()
	return set
}

func (r *Resolver) expand(name string, visited map[string]struct{}, into PermissionSet) {
	if _, seen := visited[name]; seen {
		return
	}
	visited[name] = struct{}{}
	role, ok := r.roles[name]
	if !ok {
		return
	}
	for _, p := range role.Permissions {
		into[p] = struct{}{}
	}
	for _, parent := range role.Inherits {
		r.expand(parent, visited, into)
	}
}
