package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/orbit-hq/orbit/internal/shared"
)

type memUser struct {
	companyID int64
}

type grantKey struct {
	userID       int64
	permissionID int64
}

// memRepo is an in-memory RepositoryPort used to exercise Service without a
// database.
type memRepo struct {
	nextRoleID  int64
	users       map[int64]memUser
	roles       map[int64]Role
	rolePerms   map[int64][]int64
	assignments map[int64][]RoleAssignment
	directs     map[grantKey]DirectGrant
	permissions map[int64]Permission
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextRoleID:  1,
		users:       make(map[int64]memUser),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64][]int64),
		assignments: make(map[int64][]RoleAssignment),
		directs:     make(map[grantKey]DirectGrant),
		permissions: make(map[int64]Permission),
	}
}

func (r *memRepo) addRole(role Role) Role {
	role.ID = r.nextRoleID
	r.nextRoleID++
	r.roles[role.ID] = role
	return role
}

func (r *memRepo) UserExists(ctx context.Context, userID int64) (bool, error) {
	_, ok := r.users[userID]
	return ok, nil
}

func (r *memRepo) UserCompany(ctx context.Context, userID int64) (int64, error) {
	u, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return u.companyID, nil
}

func (r *memRepo) UserHoldsRole(ctx context.Context, userID int64, roleName string, at time.Time) (bool, error) {
	for _, a := range r.assignments[userID] {
		role, ok := r.roles[a.RoleID]
		if ok && role.Name == roleName && role.CompanyID == nil && role.IsSystem && active(a.ExpiresAt, at) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, a := range r.assignments[userID] {
		if !active(a.ExpiresAt, at) {
			continue
		}
		for _, pid := range r.rolePerms[a.RoleID] {
			name := r.permissions[pid].Name
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *memRepo) DirectGrants(ctx context.Context, userID int64, at time.Time) ([]DirectGrant, error) {
	var grants []DirectGrant
	for key, g := range r.directs {
		if key.userID == userID && active(g.ExpiresAt, at) {
			grants = append(grants, g)
		}
	}
	return grants, nil
}

func (r *memRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	for _, p := range r.permissions {
		perms = append(perms, p)
	}
	return perms, nil
}

func (r *memRepo) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok := r.permissions[id]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return p, nil
}

func (r *memRepo) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	var roles []Role
	for _, role := range r.roles {
		if role.CompanyID == nil || *role.CompanyID == companyID {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (r *memRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

func (r *memRepo) CreateRole(ctx context.Context, role Role) (Role, error) {
	for _, existing := range r.roles {
		if existing.Name == role.Name && sameScope(existing.CompanyID, role.CompanyID) {
			return Role{}, ErrDuplicate
		}
	}
	return r.addRole(role), nil
}

func (r *memRepo) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	role.Name = name
	role.Description = description
	r.roles[id] = role
	return role, nil
}

func (r *memRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := r.roles[id]; !ok {
		return ErrRoleNotFound
	}
	for _, assignments := range r.assignments {
		for _, a := range assignments {
			if a.RoleID == id && active(a.ExpiresAt, time.Now()) {
				return ErrRoleInUse
			}
		}
	}
	delete(r.roles, id)
	delete(r.rolePerms, id)
	return nil
}

func (r *memRepo) RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	for userID, assignments := range r.assignments {
		for _, a := range assignments {
			if a.RoleID == roleID {
				ids = append(ids, userID)
			}
		}
	}
	return ids, nil
}

func (r *memRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, ok := r.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := r.permissions[pid]; !ok {
			return ErrPermissionNotFound
		}
	}
	r.rolePerms[roleID] = dedupe(permissionIDs)
	return nil
}

func (r *memRepo) AssignRole(ctx context.Context, a RoleAssignment) error {
	for _, existing := range r.assignments[a.UserID] {
		if existing.RoleID == a.RoleID {
			return ErrDuplicate
		}
	}
	r.assignments[a.UserID] = append(r.assignments[a.UserID], a)
	return nil
}

func (r *memRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	assignments := r.assignments[userID]
	for i, a := range assignments {
		if a.RoleID == roleID {
			r.assignments[userID] = append(assignments[:i], assignments[i+1:]...)
			return nil
		}
	}
	return ErrGrantNotFound
}

func (r *memRepo) BulkAssignRole(ctx context.Context, userIDs []int64, roleID, grantedBy int64, expiresAt *time.Time) error {
	role, ok := r.roles[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	for _, userID := range userIDs {
		u, ok := r.users[userID]
		if !ok {
			return ErrUserNotFound
		}
		if role.CompanyID != nil && *role.CompanyID != u.companyID {
			return ErrCrossCompanyScope
		}
	}
	for _, userID := range userIDs {
		_ = r.AssignRole(ctx, RoleAssignment{UserID: userID, RoleID: roleID, GrantedBy: grantedBy, ExpiresAt: expiresAt})
	}
	return nil
}

func (r *memRepo) InsertDirectGrant(ctx context.Context, g DirectGrant) error {
	key := grantKey{userID: g.UserID, permissionID: g.PermissionID}
	if _, ok := r.directs[key]; ok {
		return ErrDuplicate
	}
	g.PermissionName = r.permissions[g.PermissionID].Name
	r.directs[key] = g
	return nil
}

func (r *memRepo) RevokeDirectGrant(ctx context.Context, userID, permissionID int64) error {
	key := grantKey{userID: userID, permissionID: permissionID}
	if _, ok := r.directs[key]; !ok {
		return ErrGrantNotFound
	}
	delete(r.directs, key)
	return nil
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memAudit struct {
	logs []shared.AuditLog
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func companyID(id int64) *int64 { return &id }

func TestCreateRoleRequiresName(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil, nil)
	_, err := svc.CreateRole(context.Background(), 1, "   ", "", 99)
	require.Error(t, err)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.CreateRole(context.Background(), 1, "auditor", "read only", 99)
	require.NoError(t, err)
	_, err = svc.CreateRole(context.Background(), 1, "auditor", "again", 99)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateRoleReservedNameRejected(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.CreateRole(context.Background(), 7, SuperAdminRoleName, "tenant-minted", 99)
	require.ErrorIs(t, err, ErrReservedName)
	_, err = svc.CreateRole(context.Background(), 7, "Super_Admin", "case games", 99)
	require.ErrorIs(t, err, ErrReservedName)
	require.Empty(t, repo.roles)
}

func TestUpdateRoleToReservedNameRejected(t *testing.T) {
	repo := newMemRepo()
	role := repo.addRole(Role{CompanyID: companyID(7), Name: "auditor"})
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.UpdateRole(context.Background(), role.ID, SuperAdminRoleName, "", 99)
	require.ErrorIs(t, err, ErrReservedName)
	require.Equal(t, "auditor", repo.roles[role.ID].Name)
}

func TestUpdateSystemRoleRejected(t *testing.T) {
	repo := newMemRepo()
	role := repo.addRole(Role{Name: SuperAdminRoleName, IsSystem: true})
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.UpdateRole(context.Background(), role.ID, "renamed", "", 99)
	require.ErrorIs(t, err, ErrSystemRole)

	require.ErrorIs(t, svc.DeleteRole(context.Background(), role.ID, 99), ErrSystemRole)
}

func TestDeleteRoleInUse(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	repo.assignments[5] = []RoleAssignment{{UserID: 5, RoleID: role.ID}}
	svc := NewService(repo, nil, nil, nil)

	require.ErrorIs(t, svc.DeleteRole(context.Background(), role.ID, 99), ErrRoleInUse)
}

func TestDeleteRoleWithOnlyExpiredAssignments(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	past := time.Now().Add(-time.Hour)
	repo.assignments[5] = []RoleAssignment{{UserID: 5, RoleID: role.ID, ExpiresAt: &past}}
	svc := NewService(repo, nil, nil, nil)

	require.NoError(t, svc.DeleteRole(context.Background(), role.ID, 99))
}

func TestAssignRoleCrossCompanyRejected(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 2}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	svc := NewService(repo, nil, nil, nil)

	err := svc.AssignRole(context.Background(), AssignRoleInput{UserID: 5, RoleID: role.ID, GrantedBy: 99})
	require.ErrorIs(t, err, ErrCrossCompanyScope)
	require.Empty(t, repo.assignments[5])
}

func TestAssignSystemRoleToAnyCompany(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 2}
	role := repo.addRole(Role{Name: "member", IsSystem: true})
	svc := NewService(repo, nil, nil, nil)

	require.NoError(t, svc.AssignRole(context.Background(), AssignRoleInput{UserID: 5, RoleID: role.ID, GrantedBy: 99}))
	require.Len(t, repo.assignments[5], 1)
}

func TestAssignRoleDuplicate(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	svc := NewService(repo, nil, nil, nil)

	input := AssignRoleInput{UserID: 5, RoleID: role.ID, GrantedBy: 99}
	require.NoError(t, svc.AssignRole(context.Background(), input))
	require.ErrorIs(t, svc.AssignRole(context.Background(), input), ErrDuplicate)
}

func TestBulkAssignAbortsOnCrossCompanyUser(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	repo.users[6] = memUser{companyID: 2}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	svc := NewService(repo, nil, nil, nil)

	err := svc.BulkAssignRole(context.Background(), []int64{5, 6}, role.ID, 99, nil)
	require.ErrorIs(t, err, ErrCrossCompanyScope)
	require.Empty(t, repo.assignments[5])
}

func TestReplaceRolePermissionsUnknownPermission(t *testing.T) {
	repo := newMemRepo()
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	repo.permissions[1] = Permission{ID: 1, Name: "team.read", Category: "team"}
	svc := NewService(repo, nil, nil, nil)

	err := svc.ReplaceRolePermissions(context.Background(), role.ID, []int64{1, 404}, 99)
	require.ErrorIs(t, err, ErrPermissionNotFound)
	require.Empty(t, repo.rolePerms[role.ID])
}

func TestReplaceRolePermissionsInvalidatesHolders(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	repo.permissions[1] = Permission{ID: 1, Name: "team.read", Category: "team"}
	repo.permissions[2] = Permission{ID: 2, Name: "team.update", Category: "team"}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	repo.rolePerms[role.ID] = []int64{1}
	repo.assignments[5] = []RoleAssignment{{UserID: 5, RoleID: role.ID}}

	resolver := NewResolver(repo, cache, nil, nil)
	svc := NewService(repo, cache, nil, nil)

	perms, err := resolver.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"team.read"}, names(perms))

	require.NoError(t, svc.ReplaceRolePermissions(ctx, role.ID, []int64{1, 2}, 99))

	perms, err = resolver.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"team.read", "team.update"}, names(perms))
}

func TestReplaceRolePermissionsIdempotent(t *testing.T) {
	repo := newMemRepo()
	repo.permissions[1] = Permission{ID: 1, Name: "team.read", Category: "team"}
	repo.permissions[2] = Permission{ID: 2, Name: "team.update", Category: "team"}
	role := repo.addRole(Role{CompanyID: companyID(1), Name: "auditor"})
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	ids := []int64{1, 2, 2}
	require.NoError(t, svc.ReplaceRolePermissions(ctx, role.ID, ids, 99))
	require.NoError(t, svc.ReplaceRolePermissions(ctx, role.ID, ids, 99))
	require.Equal(t, []int64{1, 2}, repo.rolePerms[role.ID])
}

func TestGrantDirectPermissionValidatesTargets(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	repo.permissions[1] = Permission{ID: 1, Name: "users.view", Category: "users"}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	err := svc.GrantDirectPermission(ctx, DirectGrantInput{UserID: 404, PermissionID: 1, Granted: true, GrantedBy: 99})
	require.ErrorIs(t, err, ErrUserNotFound)

	err = svc.GrantDirectPermission(ctx, DirectGrantInput{UserID: 5, PermissionID: 404, Granted: true, GrantedBy: 99})
	require.ErrorIs(t, err, ErrPermissionNotFound)
}

func TestGrantDirectPermissionDuplicateLink(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	repo.permissions[1] = Permission{ID: 1, Name: "users.view", Category: "users"}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	grant := DirectGrantInput{UserID: 5, PermissionID: 1, Granted: true, GrantedBy: 99}
	require.NoError(t, svc.GrantDirectPermission(ctx, grant))

	// Flipping polarity still hits the same link; callers revoke first.
	grant.Granted = false
	require.ErrorIs(t, svc.GrantDirectPermission(ctx, grant), ErrDuplicate)

	require.NoError(t, svc.RevokeDirectPermission(ctx, 5, 1, 99))
	require.NoError(t, svc.GrantDirectPermission(ctx, grant))
}

func TestRevokeMissingGrant(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	svc := NewService(repo, nil, nil, nil)

	require.ErrorIs(t, svc.RevokeDirectPermission(context.Background(), 5, 1, 99), ErrGrantNotFound)
}

func TestMutationsRecordAudit(t *testing.T) {
	repo := newMemRepo()
	repo.users[5] = memUser{companyID: 1}
	repo.permissions[1] = Permission{ID: 1, Name: "users.view", Category: "users"}
	audit := &memAudit{}
	svc := NewService(repo, nil, audit, nil)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, 1, "auditor", "", 99)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, AssignRoleInput{UserID: 5, RoleID: role.ID, GrantedBy: 99}))
	require.NoError(t, svc.GrantDirectPermission(ctx, DirectGrantInput{UserID: 5, PermissionID: 1, Granted: false, GrantedBy: 99}))

	require.Len(t, audit.logs, 3)
	require.Equal(t, "ROLE_CREATE", audit.logs[0].Action)
	require.Equal(t, "ROLE_ASSIGN", audit.logs[1].Action)
	require.Equal(t, "PERMISSION_DENY", audit.logs[2].Action)
	for _, log := range audit.logs {
		require.EqualValues(t, 99, log.ActorID)
	}
}
