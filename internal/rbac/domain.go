package rbac

import "time"

// SuperAdminRoleName is the fixed identifier of the bypass role. Holders skip
// permission resolution and company boundary checks entirely.
const SuperAdminRoleName = "super_admin"

// Source identifies how a permission entered a user's effective set.
type Source string

const (
	// SourceRole marks permissions derived from a held role.
	SourceRole Source = "role"
	// SourceDirect marks permissions granted directly to the user.
	SourceDirect Source = "direct"
	// SourceBypass marks the full catalog returned for super admins.
	SourceBypass Source = "bypass"
)

// Permission represents an atomic capability. Names are globally unique and
// kept as data rather than an enumeration so the catalog can grow at runtime.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Role represents a named bundle of permissions. CompanyID is nil for
// system-wide roles; names are unique within their company scope.
type Role struct {
	ID          int64     `json:"id"`
	CompanyID   *int64    `json:"company_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleAssignment links a user to a role.
type RoleAssignment struct {
	UserID    int64      `json:"user_id"`
	RoleID    int64      `json:"role_id"`
	GrantedBy int64      `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// DirectGrant links a user directly to a permission. Granted=false records an
// explicit denial that suppresses the permission regardless of role grants.
type DirectGrant struct {
	UserID         int64      `json:"user_id"`
	PermissionID   int64      `json:"permission_id"`
	PermissionName string     `json:"permission_name,omitempty"`
	Granted        bool       `json:"granted"`
	GrantedBy      int64      `json:"granted_by"`
	Reason         string     `json:"reason,omitempty"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// EffectivePermission is one entry of a user's resolved permission set.
type EffectivePermission struct {
	Name   string `json:"name"`
	Source Source `json:"source"`
}

// PermissionGroup bundles catalog entries sharing a category.
type PermissionGroup struct {
	Category    string       `json:"category"`
	Permissions []Permission `json:"permissions"`
}
