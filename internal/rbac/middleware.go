package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/orbit-hq/orbit/internal/observability"
	"github.com/orbit-hq/orbit/internal/shared"
)

// Middleware wires RBAC authorization guards for HTTP handlers. Guards fail
// closed: any error while deciding produces a deny, never an allow.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// RequireAny ensures the current user has at least one of the required
// permissions. Super admins bypass the check entirely.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, hasAnyPermission)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, hasAllPermissions)
}

func (m Middleware) guard(required []string, match func(granted []EffectivePermission, required []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			// Bypass must come before any company-scoped restriction.
			if m.Resolver.IsSuperAdmin(r.Context(), id.UserID, id.CompanyID) {
				m.Metrics.AuthzDecision("bypass")
				next.ServeHTTP(w, r)
				return
			}
			granted, err := m.Resolver.EffectivePermissions(r.Context(), id.UserID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac guard", slog.Int64("user_id", id.UserID), slog.Any("error", err))
				}
				m.Metrics.AuthzDecision("deny")
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if match(granted, required) {
				m.Metrics.AuthzDecision("allow")
				next.ServeHTTP(w, r)
				return
			}
			m.Metrics.AuthzDecision("deny")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []EffectivePermission, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []EffectivePermission, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func permissionSet(granted []EffectivePermission) map[string]struct{} {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p.Name)] = struct{}{}
	}
	return set
}
