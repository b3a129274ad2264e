package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service PermissionSource
	Logger  *slog.Logger
}

// PermissionSet is a case-insensitive set of permission strings.
type PermissionSet map[string]struct{}

// NewPermissionSet normalises perms into a set, dropping blanks.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p = normalizePermission(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Missing returns the required permissions absent from the set, sorted.
func (s PermissionSet) Missing(required PermissionSet) []string {
	var missing []string
	for p := range required {
		if _, ok := s[p]; !ok {
			missing = append(missing, p)
		}
	}
	slices.Sort(missing)
	return missing
}

// PermissionError reports a caller lacking the permissions a route demands.
type PermissionError struct {
	Mode     string
	Required []string
}

func (e *PermissionError) Error() string {
	return "missing " + e.Mode + " of permissions " + strings.Join(e.Required, ", ")
}

// ErrorCode implements httpx.DomainError.
func (e *PermissionError) ErrorCode() string { return "FORBIDDEN_PERMISSION" }

// HTTPStatus implements httpx.DomainError.
func (e *PermissionError) HTTPStatus() int { return http.StatusForbidden }

// Details implements httpx.DomainError.
func (e *PermissionError) Details() map[string]any {
	return map[string]any{"mode": e.Mode, "required": e.Required}
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := NewPermissionSet(perms...)
	return m.require("any", required, func(granted PermissionSet) bool {
		return len(granted.Missing(required)) < len(required)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := NewPermissionSet(perms...)
	return m.require("all", required, func(granted PermissionSet) bool {
		return len(granted.Missing(required)) == 0
	})
}

func (m Middleware) require(mode string, required PermissionSet, allowed func(PermissionSet) bool) func(http.Handler) http.Handler {
	listed := PermissionSet{}.Missing(required)
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), id.TenantID, id.UserID)
			if err != nil {
				m.logger().Error("resolve permissions", slog.Any("error", err),
					slog.String("tenant_id", id.TenantID.String()), slog.String("user_id", id.UserID.String()))
				httpx.RespondError(w, err)
				return
			}
			if !allowed(NewPermissionSet(granted...)) {
				httpx.RespondError(w, &PermissionError{Mode: mode, Required: listed})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizePermission(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
