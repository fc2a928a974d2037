package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermCompanyView = "company.view"
	PermCompanyEdit = "company.edit"

	PermTeamRead          = "team.read"
	PermTeamUpdate        = "team.update"
	PermTeamManageMembers = "team.manage_members"
)

// Super-admin only permissions. Holders of the super-admin role get these in
// addition to the full catalog; they are never granted individually.
const (
	PermSystemBypassCompany      = "system.bypass_company"
	PermSystemManageRoles        = "system.manage_roles"
	PermSystemAccessAllCompanies = "system.access_all_companies"
	PermSystemManageSuperAdmins  = "system.manage_super_admins"
)

// PermissionDef describes one catalog entry for seeding.
type PermissionDef struct {
	Name        string
	Description string
	Category    string
}

// PermissionCatalog lists the seeded permission catalog grouped by category.
func PermissionCatalog() []PermissionDef {
	return []PermissionDef{
		{PermUsersView, "View users", "users"},
		{PermUsersEdit, "Manage users", "users"},
		{PermRolesView, "View roles", "rbac"},
		{PermRolesEdit, "Manage roles", "rbac"},
		{PermPermissionsView, "View the permission catalog", "rbac"},
		{PermCompanyView, "View company data", "company"},
		{PermCompanyEdit, "Manage company data", "company"},
		{PermTeamRead, "View teams", "team"},
		{PermTeamUpdate, "Manage teams", "team"},
		{PermTeamManageMembers, "Manage team membership", "team"},
		{PermSystemBypassCompany, "Bypass company restrictions", "system"},
		{PermSystemManageRoles, "Manage system roles", "system"},
		{PermSystemAccessAllCompanies, "Access all companies", "system"},
		{PermSystemManageSuperAdmins, "Manage super admins", "system"},
	}
}
