package rbac

import "errors"

var (
	// ErrConfig marks an invalid role or policy document.
	ErrConfig = errors.New("rbac: invalid configuration")
	// ErrUnknownPermission indicates a permission outside the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrUnknownRole indicates a reference to an undefined role.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrRoleCycle indicates a role inheriting from itself, directly or not.
	ErrRoleCycle = errors.New("rbac: role hierarchy cycle")
)
