package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/orbit-hq/orbit/internal/shared"
)

// RepositoryPort defines the data access methods used by Service.
// *Repository satisfies it.
type RepositoryPort interface {
	GrantStore

	UserCompany(ctx context.Context, userID int64) (int64, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListRoles(ctx context.Context, companyID int64) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRole(ctx context.Context, a RoleAssignment) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	BulkAssignRole(ctx context.Context, userIDs []int64, roleID, grantedBy int64, expiresAt *time.Time) error
	InsertDirectGrant(ctx context.Context, g DirectGrant) error
	RevokeDirectGrant(ctx context.Context, userID, permissionID int64) error
}

// AuditPort records mutations for the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates role and grant management. Every successful mutation
// invalidates the cached permission sets of the affected users.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs a Service. Cache and audit may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// ListRoles returns system-wide roles plus the company's own roles.
func (s *Service) ListRoles(ctx context.Context, companyID int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, companyID)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new company-scoped role. System roles are created only
// through seeding, and their names cannot be claimed by company roles.
func (s *Service) CreateRole(ctx context.Context, companyID int64, name, description string, actorID int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	if strings.EqualFold(name, SuperAdminRoleName) {
		return Role{}, ErrReservedName
	}
	role, err := s.repo.CreateRole(ctx, Role{
		CompanyID:   &companyID,
		Name:        name,
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "ROLE_CREATE", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole updates an existing role. System roles are read-only.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, actorID int64) (Role, error) {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if existing.IsSystem {
		return Role{}, ErrSystemRole
	}
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, SuperAdminRoleName) {
		return Role{}, ErrReservedName
	}
	role, err := s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "ROLE_UPDATE", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// DeleteRole removes a role that no user currently holds.
func (s *Service) DeleteRole(ctx context.Context, id int64, actorID int64) error {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ROLE_DELETE", id, map[string]any{"name": existing.Name})
	return nil
}

// CatalogByCategory returns the permission catalog grouped by category.
func (s *Service) CatalogByCategory(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	var groups []PermissionGroup
	for _, p := range perms {
		if len(groups) == 0 || groups[len(groups)-1].Category != p.Category {
			groups = append(groups, PermissionGroup{Category: p.Category})
		}
		last := &groups[len(groups)-1]
		last.Permissions = append(last.Permissions, p)
	}
	return groups, nil
}

// ReplaceRolePermissions atomically replaces the role's permission set and
// invalidates every holder's cached permissions.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID int64) error {
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	holders, err := s.repo.RoleHolderIDs(ctx, roleID)
	if err != nil {
		s.invalidateErr(err)
	} else {
		s.invalidate(ctx, holders...)
	}
	s.recordAudit(ctx, actorID, "ROLE_PERMISSIONS_REPLACE", roleID, map[string]any{"permission_ids": permissionIDs})
	return nil
}

// AssignRoleInput describes a role assignment request.
type AssignRoleInput struct {
	UserID    int64
	RoleID    int64
	GrantedBy int64
	ExpiresAt *time.Time
}

// AssignRole links a user to a role after validating that both exist and that
// a company-scoped role stays within its tenant. System-wide roles may be
// held by any user.
func (s *Service) AssignRole(ctx context.Context, input AssignRoleInput) error {
	role, err := s.repo.GetRole(ctx, input.RoleID)
	if err != nil {
		return err
	}
	userCompany, err := s.repo.UserCompany(ctx, input.UserID)
	if err != nil {
		return err
	}
	if role.CompanyID != nil && *role.CompanyID != userCompany {
		return ErrCrossCompanyScope
	}
	if err := s.repo.AssignRole(ctx, RoleAssignment{
		UserID:    input.UserID,
		RoleID:    input.RoleID,
		GrantedBy: input.GrantedBy,
		ExpiresAt: input.ExpiresAt,
	}); err != nil {
		return err
	}
	s.invalidate(ctx, input.UserID)
	s.recordAudit(ctx, input.GrantedBy, "ROLE_ASSIGN", input.RoleID, map[string]any{"user_id": input.UserID})
	return nil
}

// RemoveRole unlinks a user from a role.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID, actorID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.recordAudit(ctx, actorID, "ROLE_REMOVE", roleID, map[string]any{"user_id": userID})
	return nil
}

// BulkAssignRole links many users to one role atomically.
func (s *Service) BulkAssignRole(ctx context.Context, userIDs []int64, roleID, grantedBy int64, expiresAt *time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := s.repo.BulkAssignRole(ctx, userIDs, roleID, grantedBy, expiresAt); err != nil {
		return err
	}
	s.invalidate(ctx, userIDs...)
	s.recordAudit(ctx, grantedBy, "ROLE_ASSIGN_BULK", roleID, map[string]any{"user_ids": userIDs})
	return nil
}

// DirectGrantInput describes a direct grant or denial request.
type DirectGrantInput struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	GrantedBy    int64
	Reason       string
	ExpiresAt    *time.Time
}

// GrantDirectPermission records a direct grant (granted=true) or an explicit
// denial (granted=false) for a user. An existing link for the same permission
// must be revoked first.
func (s *Service) GrantDirectPermission(ctx context.Context, input DirectGrantInput) error {
	if _, err := s.repo.UserCompany(ctx, input.UserID); err != nil {
		return err
	}
	if _, err := s.repo.GetPermission(ctx, input.PermissionID); err != nil {
		return err
	}
	if err := s.repo.InsertDirectGrant(ctx, DirectGrant{
		UserID:       input.UserID,
		PermissionID: input.PermissionID,
		Granted:      input.Granted,
		GrantedBy:    input.GrantedBy,
		Reason:       strings.TrimSpace(input.Reason),
		ExpiresAt:    input.ExpiresAt,
	}); err != nil {
		return err
	}
	s.invalidate(ctx, input.UserID)
	action := "PERMISSION_GRANT"
	if !input.Granted {
		action = "PERMISSION_DENY"
	}
	s.recordAudit(ctx, input.GrantedBy, action, input.PermissionID, map[string]any{"user_id": input.UserID, "reason": input.Reason})
	return nil
}

// RevokeDirectPermission removes a direct grant or denial.
func (s *Service) RevokeDirectPermission(ctx context.Context, userID, permissionID, actorID int64) error {
	if err := s.repo.RevokeDirectGrant(ctx, userID, permissionID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.recordAudit(ctx, actorID, "PERMISSION_REVOKE", permissionID, map[string]any{"user_id": userID})
	return nil
}

func (s *Service) invalidate(ctx context.Context, userIDs ...int64) {
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		s.invalidateErr(err)
	}
}

func (s *Service) invalidateErr(err error) {
	// The write has already committed; a failed invalidation leaves a stale
	// cached set until the TTL runs out, so this is logged loudly.
	if s.logger != nil {
		s.logger.Error("rbac cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "rbac",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
