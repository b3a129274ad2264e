package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Directory is the read side of the user/role store.
type Directory interface {
	PermissionSource
	Actor(ctx context.Context, tenantID, userID uuid.UUID) (Actor, error)
}

// ProfileHandler exposes the caller's resolved roles and permissions.
type ProfileHandler struct {
	logger    *slog.Logger
	directory Directory
}

// NewProfileHandler builds ProfileHandler instance.
func NewProfileHandler(logger *slog.Logger, directory Directory) *ProfileHandler {
	return &ProfileHandler{logger: logger, directory: directory}
}

// MountRoutes registers profile routes.
func (h *ProfileHandler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
}

type profileResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Roles       []Role    `json:"roles"`
	Level       int       `json:"hierarchy_level"`
	IsOwner     bool      `json:"is_owner"`
	Permissions []string  `json:"permissions"`
}

func (h *ProfileHandler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	actor, err := h.directory.Actor(r.Context(), id.TenantID, id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("load actor", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.directory.EffectivePermissions(r.Context(), id.TenantID, id.UserID)
	if err != nil {
		h.logger.Error("load permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profileResponse{
		UserID:      actor.ID,
		TenantID:    actor.TenantID,
		Roles:       actor.Roles,
		Level:       actor.Level,
		IsOwner:     actor.IsOwner(),
		Permissions: perms,
	})
}
