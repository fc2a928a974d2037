package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-hq/orbit/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for roles, permissions
// and grants. All tables are shared across tenants; company scoping happens
// through the company_id column, never through physical isolation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// UserExists reports whether the user id resolves to a record.
func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// UserCompany returns the company the user belongs to.
func (r *Repository) UserCompany(ctx context.Context, userID int64) (int64, error) {
	var companyID int64
	err := r.pool.QueryRow(ctx, `SELECT company_id FROM users WHERE id = $1`, userID).Scan(&companyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return companyID, err
}

// UserHoldsRole reports whether the user holds the named system role through
// a non-expired assignment at the given instant. Only system-scoped roles
// match: a company role sharing the name never counts, so a tenant cannot
// mint its own super_admin.
func (r *Repository) UserHoldsRole(ctx context.Context, userID int64, roleName string, at time.Time) (bool, error) {
	var held bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = $1
			  AND r.name = $2
			  AND r.company_id IS NULL
			  AND r.is_system
			  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
		)`, userID, roleName, at).Scan(&held)
	return held, err
}

// RolePermissionNames returns the union of permission names attached to the
// user's non-expired role assignments.
func (r *Repository) RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY p.name`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DirectGrants returns the user's non-expired direct grants and denials.
func (r *Repository) DirectGrants(ctx context.Context, userID int64, at time.Time) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT up.user_id, up.permission_id, p.name, up.granted, up.granted_by, COALESCE(up.reason, ''), up.granted_at, up.expires_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		  AND (up.expires_at IS NULL OR up.expires_at > $2)
		ORDER BY p.name`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		if err := rows.Scan(&g.UserID, &g.PermissionID, &g.PermissionName, &g.Granted, &g.GrantedBy, &g.Reason, &g.GrantedAt, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListPermissions returns the full permission catalog ordered by category and name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, category FROM permissions ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a catalog entry by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, category FROM permissions WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrPermissionNotFound
	}
	return p, err
}

// ListRoles returns system-wide roles plus roles scoped to the given company.
func (r *Repository) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, company_id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE company_id IS NULL OR company_id = $1
		ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.CompanyID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, company_id, name, description, is_system, created_at, updated_at
		FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.CompanyID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	return role, err
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (company_id, name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		role.CompanyID, role.Name, role.Description, role.IsSystem).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if isUniqueViolation(err) {
		return Role{}, ErrDuplicate
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates name and description of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, company_id, name, description, is_system, created_at, updated_at`,
		id, name, description).
		Scan(&role.ID, &role.CompanyID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if isUniqueViolation(err) {
		return Role{}, ErrDuplicate
	}
	return role, err
}

// DeleteRole removes a role and its permission links. Fails with ErrRoleInUse
// while any user still holds the role; assignments that have already expired
// but not been swept do not block deletion.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var holders int64
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM user_roles
			WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, id).Scan(&holders); err != nil {
			return err
		}
		if holders > 0 {
			return ErrRoleInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
}

// RoleHolderIDs returns the ids of users currently assigned the role,
// including users whose assignment has expired but not been swept yet.
func (r *Repository) RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceRolePermissions replaces the role's permission set atomically. A
// concurrent resolver call sees either the old set or the new one, never a
// half-applied mix.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRoleNotFound
		}
		var known int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1)`, permissionIDs).Scan(&known); err != nil {
			return err
		}
		if known != int64(len(dedupe(permissionIDs))) {
			return ErrPermissionNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permID := range dedupe(permissionIDs) {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`, roleID, permID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AssignRole links a user to a role.
func (r *Repository) AssignRole(ctx context.Context, a RoleAssignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)`,
		a.UserID, a.RoleID, a.GrantedBy, a.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// RemoveRole unlinks a user from a role.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// BulkAssignRole links many users to one role in a single transaction.
// Either every link is established or none are. Users already holding the
// role are left untouched. Cross-company users abort the whole batch.
func (r *Repository) BulkAssignRole(ctx context.Context, userIDs []int64, roleID, grantedBy int64, expiresAt *time.Time) error {
	users := dedupe(userIDs)
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var roleCompany *int64
		err := tx.QueryRow(ctx, `SELECT company_id FROM roles WHERE id = $1`, roleID).Scan(&roleCompany)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoleNotFound
		}
		if err != nil {
			return err
		}
		var known int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, users).Scan(&known); err != nil {
			return err
		}
		if known != int64(len(users)) {
			return ErrUserNotFound
		}
		if roleCompany != nil {
			var foreign int64
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1) AND company_id <> $2`, users, *roleCompany).Scan(&foreign); err != nil {
				return err
			}
			if foreign > 0 {
				return ErrCrossCompanyScope
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id, granted_by, granted_at, expires_at)
			SELECT u.id, $2, $3, NOW(), $4 FROM users u WHERE u.id = ANY($1)
			ON CONFLICT (user_id, role_id) DO NOTHING`,
			users, roleID, grantedBy, expiresAt)
		return err
	})
}

// InsertDirectGrant records a direct grant or denial for a user.
func (r *Repository) InsertDirectGrant(ctx context.Context, g DirectGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted, granted_by, reason, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW(), $6)`,
		g.UserID, g.PermissionID, g.Granted, g.GrantedBy, g.Reason, g.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// RevokeDirectGrant removes a direct grant or denial.
func (r *Repository) RevokeDirectGrant(ctx context.Context, userID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
