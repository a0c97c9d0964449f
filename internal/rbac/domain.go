package rbac

import (
	"sort"
	"strings"
)

// Permission represents an atomic capability.
type Permission string

// Role represents a named permission bundle. Inherits lists roles whose
// effective permissions are folded into this one.
type Role struct {
	Name        string       `yaml:"name" validate:"required"`
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
	Inherits    []string     `yaml:"inherits"`
}

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// ContainsAll reports whether every required permission is present.
func (s PermissionSet) ContainsAll(required ...Permission) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether at least one permission is present. An empty
// requirement is satisfied.
func (s PermissionSet) ContainsAny(required ...Permission) bool {
	if len(required) == 0 {
		return true
	}
	for _, p := range required {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// Union returns a new set holding the members of both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Sorted returns the permissions as a sorted slice of strings.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

func (s PermissionSet) String() string {
	return "{" + strings.Join(s.Sorted(), ",") + "}"
}
