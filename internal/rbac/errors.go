package rbac

import "errors"

var (
	// ErrUserNotFound indicates the user id does not resolve to any record.
	ErrUserNotFound = errors.New("rbac: user not found")
	// ErrRoleNotFound indicates the role does not exist.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrPermissionNotFound indicates a referenced permission does not exist.
	ErrPermissionNotFound = errors.New("rbac: permission not found")
	// ErrGrantNotFound indicates the assignment or direct grant does not exist.
	ErrGrantNotFound = errors.New("rbac: grant not found")
	// ErrDuplicate indicates a unique-scoped name or link already exists.
	ErrDuplicate = errors.New("rbac: already exists")
	// ErrCrossCompanyScope indicates an attempt to assign a company-scoped
	// role or grant across tenant boundaries.
	ErrCrossCompanyScope = errors.New("rbac: cross-company scope")
	// ErrRoleInUse indicates a delete was attempted on a role still held by users.
	ErrRoleInUse = errors.New("rbac: role still held by users")
	// ErrSystemRole indicates a mutation was attempted on a system role.
	ErrSystemRole = errors.New("rbac: system role is read-only")
	// ErrReservedName indicates an attempt to name a company role after a
	// reserved system role.
	ErrReservedName = errors.New("rbac: role name reserved")
)
