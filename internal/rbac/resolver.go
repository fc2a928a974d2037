package rbac

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orbit-hq/orbit/internal/observability"
)

// GrantStore describes the reads the resolver needs from the grant store.
// *Repository satisfies it.
type GrantStore interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	// UserHoldsRole matches system-scoped roles only; a company role that
	// shares the name must not count.
	UserHoldsRole(ctx context.Context, userID int64, roleName string, at time.Time) (bool, error)
	RolePermissionNames(ctx context.Context, userID int64, at time.Time) ([]string, error)
	DirectGrants(ctx context.Context, userID int64, at time.Time) ([]DirectGrant, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Resolver computes the effective permission set for a user by merging role
// permissions with direct grants and denials. It never mutates grant state;
// its only side effect is populating the cache.
type Resolver struct {
	store   GrantStore
	cache   *Cache
	logger  *slog.Logger
	metrics *observability.Metrics
	group   singleflight.Group
	now     func() time.Time
}

// NewResolver constructs a Resolver. Cache and metrics may be nil.
func NewResolver(store GrantStore, cache *Cache, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// EffectivePermissions returns the permission set currently effective for the
// user, each entry tagged with its source. Super admins get the full catalog
// without further computation. Fails with ErrUserNotFound for unknown users;
// a user with no role and no grants yields an empty set, not an error.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	if perms, ok, err := r.cache.Get(ctx, userID); err != nil {
		r.warn("resolver cache read", err)
	} else if ok {
		r.metrics.ResolverCacheEvent("hit")
		return perms, nil
	}
	r.metrics.ResolverCacheEvent("miss")

	// Concurrent checks for the same user collapse into one store round trip.
	ch := r.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		perms, err := r.resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(ctx, userID, perms); err != nil {
			r.warn("resolver cache write", err)
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]EffectivePermission), nil
	}
}

// HasPermission reports whether the permission is in the user's effective set.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// IsSuperAdmin reports whether the user currently holds the super-admin role.
// Any failure while checking denies the bypass and falls through to normal
// permission checking; errors must bias toward the restrictive path.
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID, companyID int64) bool {
	held, err := r.store.UserHoldsRole(ctx, userID, SuperAdminRoleName, r.now())
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("super admin check failed, denying bypass",
				slog.Int64("user_id", userID),
				slog.Int64("company_id", companyID),
				slog.Any("error", err))
		}
		return false
	}
	return held
}

func (r *Resolver) resolve(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	now := r.now()

	exists, err := r.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	held, err := r.store.UserHoldsRole(ctx, userID, SuperAdminRoleName, now)
	if err != nil {
		return nil, err
	}
	if held {
		// Bypass: the full catalog, ignoring direct denials.
		catalog, err := r.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		perms := make([]EffectivePermission, len(catalog))
		for i, p := range catalog {
			perms[i] = EffectivePermission{Name: p.Name, Source: SourceBypass}
		}
		sortPermissions(perms)
		return perms, nil
	}

	set := make(map[string]Source)

	roleNames, err := r.store.RolePermissionNames(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	for _, name := range roleNames {
		set[name] = SourceRole
	}

	grants, err := r.store.DirectGrants(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if !g.Granted {
			continue
		}
		if _, ok := set[g.PermissionName]; !ok {
			set[g.PermissionName] = SourceDirect
		}
	}
	// Denial wins over any grant of the same permission, role-derived or direct.
	for _, g := range grants {
		if !g.Granted {
			delete(set, g.PermissionName)
		}
	}

	perms := make([]EffectivePermission, 0, len(set))
	for name, source := range set {
		perms = append(perms, EffectivePermission{Name: name, Source: source})
	}
	sortPermissions(perms)
	return perms, nil
}

func (r *Resolver) warn(msg string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, slog.Any("error", err))
	}
}

func sortPermissions(perms []EffectivePermission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
}
