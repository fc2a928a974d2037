package rbac

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orbit-hq/orbit/internal/platform/httpx"
	"github.com/orbit-hq/orbit/internal/shared"
)

// GrantsHandler exposes per-user permission introspection and direct grants.
type GrantsHandler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *Resolver
	guard     Middleware
	validator *validator.Validate
}

// NewGrantsHandler builds GrantsHandler instance.
func NewGrantsHandler(logger *slog.Logger, service *Service, resolver *Resolver, guard Middleware) *GrantsHandler {
	return &GrantsHandler{logger: logger, service: service, resolver: resolver, guard: guard, validator: validator.New()}
}

// MountRoutes registers user grant routes.
func (h *GrantsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersView))
		r.Get("/{userID}/permissions", h.effectivePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersEdit))
		r.Post("/{userID}/grants", h.grantPermission)
		r.Delete("/{userID}/grants/{permissionID}", h.revokePermission)
	})
}

type directGrantRequest struct {
	PermissionID int64      `json:"permission_id" validate:"required,gt=0"`
	Granted      *bool      `json:"granted" validate:"required"`
	Reason       string     `json:"reason" validate:"max=500"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (h *GrantsHandler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	perms, err := h.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if perms == nil {
		perms = []EffectivePermission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": perms})
}

func (h *GrantsHandler) grantPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req directGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	err := h.service.GrantDirectPermission(r.Context(), DirectGrantInput{
		UserID:       userID,
		PermissionID: req.PermissionID,
		Granted:      *req.Granted,
		GrantedBy:    id.UserID,
		Reason:       req.Reason,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.logger.Error("grant permission", slog.Any("error", err))
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GrantsHandler) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	permissionID, ok := pathID(r, "permissionID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	if err := h.service.RevokeDirectPermission(r.Context(), userID, permissionID, id.UserID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
