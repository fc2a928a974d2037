package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbit-hq/orbit/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID, companyID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: userID, CompanyID: companyID})
	return req.WithContext(ctx)
}

func TestGuardRejectsAnonymous(t *testing.T) {
	store := newMemGrantStore()
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAny("team.read")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuardAllowsPermissionHolder(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.assignments[1] = []memAssignment{{role: "member", perms: []string{"team.read"}}}
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAny("team.read")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardDeniesMissingPermission(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.assignments[1] = []memAssignment{{role: "member", perms: []string{"team.read"}}}
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAny("team.manage_members")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardRequireAllNeedsEveryPermission(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.assignments[1] = []memAssignment{{role: "member", perms: []string{"team.read", "team.update"}}}
	guard := Middleware{Resolver: newTestResolver(store)}

	rec := httptest.NewRecorder()
	guard.RequireAll("team.read", "team.update")(okHandler()).ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	guard.RequireAll("team.read", "team.manage_members")(okHandler()).ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardSuperAdminBypass(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.assignments[1] = []memAssignment{{role: SuperAdminRoleName, system: true}}
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAll("team.read", "team.update", "team.manage_members")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardFailsClosedOnResolverError(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.failWith = errors.New("store unavailable")
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAny("team.read")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardNormalizesRequiredPermissions(t *testing.T) {
	store := newMemGrantStore()
	store.users[1] = struct{}{}
	store.assignments[1] = []memAssignment{{role: "member", perms: []string{"team.read"}}}
	guard := Middleware{Resolver: newTestResolver(store)}
	handler := guard.RequireAny("  Team.Read  ", "", "team.read")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestAs(1, 7))
	require.Equal(t, http.StatusOK, rec.Code)
}
