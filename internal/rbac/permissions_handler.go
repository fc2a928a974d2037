package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orbit-hq/orbit/internal/platform/httpx"
	"github.com/orbit-hq/orbit/internal/shared"
)

// PermissionsHandler serves the read-only permission catalog.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	guard   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, guard Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsView))
		r.Get("/", h.listPermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.CatalogByCategory(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": groups})
}
