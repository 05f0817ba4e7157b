package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agromano/backoffice/pkg/audit"
	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/httputil"
	"github.com/agromano/backoffice/pkg/middleware"
	"github.com/agromano/backoffice/pkg/observability"
)

// AdminRole is the role allowed to read the catalog and role diagnostics
const AdminRole = "ADMIN_AGROMANO"

// PermissionManage is required to purge the role permission cache
const PermissionManage = "usuarios:manage"

// CachePurger drops cached role permission lists
type CachePurger interface {
	Purge(ctx context.Context) error
	Len() int
}

// AuthzHandlersConfig wires AuthzHandlers
type AuthzHandlersConfig struct {
	Catalog     *authz.PermissionCatalog
	Roles       authz.RoleStore
	Permissions authz.PermissionStore
	Cache       CachePurger
	Audit       audit.Logger
	Guards      *middleware.GuardMiddleware
	Logger      *observability.Logger
}

// AuthzHandlers serves the caller's own authorization state and admin diagnostics
type AuthzHandlers struct {
	catalog     *authz.PermissionCatalog
	roles       authz.RoleStore
	permissions authz.PermissionStore
	cache       CachePurger
	audit       audit.Logger
	guards      *middleware.GuardMiddleware
	logger      *observability.Logger
}

// NewAuthzHandlers creates a new AuthzHandlers
func NewAuthzHandlers(cfg AuthzHandlersConfig) *AuthzHandlers {
	h := &AuthzHandlers{
		catalog:     cfg.Catalog,
		roles:       cfg.Roles,
		permissions: cfg.Permissions,
		cache:       cfg.Cache,
		audit:       cfg.Audit,
		guards:      cfg.Guards,
		logger:      cfg.Logger,
	}
	if h.catalog == nil {
		h.catalog = authz.DefaultCatalog()
	}
	if h.audit == nil {
		h.audit = audit.NopLogger()
	}
	if h.guards == nil {
		h.guards = middleware.NewGuardMiddleware(nil)
	}
	if h.logger == nil {
		h.logger = observability.NopLogger()
	}
	return h
}

// RegisterRoutes registers authorization routes on an authenticated router
func (h *AuthzHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me/authorization", h.GetMyAuthorization).Methods("GET")

	admin := h.guards.RequireRole(AdminRole)
	router.Handle("/authz/catalog", admin(http.HandlerFunc(h.GetCatalog))).Methods("GET")
	router.Handle("/authz/roles/{role_id}/permissions", admin(http.HandlerFunc(h.GetRolePermissions))).Methods("GET")

	manage := h.guards.RequirePermission(PermissionManage)
	router.Handle("/authz/cache/purge", manage(http.HandlerFunc(h.PurgeCache))).Methods("POST")
}

// GetMyAuthorization returns the caller's resolved authorization context
func (h *AuthzHandlers) GetMyAuthorization(w http.ResponseWriter, r *http.Request) {
	authzCtx, ok := authz.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.WriteSuccess(w, authzCtx)
}

// GetCatalog returns the static fallback catalog
func (h *AuthzHandlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.catalog)
}

// RolePermissionsResponse describes one role's permission mapping
type RolePermissionsResponse struct {
	Role                *authz.Role `json:"role"`
	ActivePermissions   []string    `json:"active_permissions"`
	InactivePermissions []string    `json:"inactive_permissions,omitempty"`
	Fallback            []string    `json:"fallback_permissions,omitempty"`
}

// GetRolePermissions handles GET /authz/roles/{role_id}/permissions. With
// include_inactive=true it also lists mappings the active query filters out.
func (h *AuthzHandlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	if h.roles == nil || h.permissions == nil {
		httputil.WriteServiceUnavailable(w, "role store not configured")
		return
	}

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role, err := h.roles.GetRoleByID(r.Context(), roleID)
	if errors.Is(err, authz.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role "+strconv.FormatInt(roleID, 10)+" not found")
		return
	}
	if err != nil {
		h.storeFailure(w, r, err)
		return
	}

	active, err := h.permissions.ActivePermissionsForRole(r.Context(), roleID)
	if err != nil {
		h.storeFailure(w, r, err)
		return
	}

	resp := RolePermissionsResponse{
		Role:              role,
		ActivePermissions: authz.NewPermissionSet(active...).Sorted(),
	}

	if includeInactive {
		all, err := h.permissions.AllPermissionsForRole(r.Context(), roleID)
		if err != nil {
			h.storeFailure(w, r, err)
			return
		}
		resp.InactivePermissions = authz.NewPermissionSet(all...).
			Difference(authz.NewPermissionSet(active...)).
			Sorted()
	}

	if fallback, ok := h.catalog.FallbackFor(role.Code); ok {
		resp.Fallback = fallback.Sorted()
	}

	httputil.WriteSuccess(w, resp)
}

// PurgeCache drops every cached role permission list
func (h *AuthzHandlers) PurgeCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.WriteServiceUnavailable(w, "permission cache disabled")
		return
	}

	entries := h.cache.Len()
	if err := h.cache.Purge(r.Context()); err != nil {
		h.storeFailure(w, r, err)
		return
	}

	authzCtx, _ := authz.FromContext(r.Context())
	id, _ := authzCtx.AccountID()
	h.logger.WithFields(map[string]interface{}{
		"account_id": id,
		"entries":    entries,
	}).Info("role permission cache purged")

	event := audit.NewEvent(r.Context(), r, audit.EventCachePurged, audit.EventStatusSuccess)
	event.StatusCode = http.StatusOK
	event.Message = "role permission cache purged"
	event.Metadata["entries"] = entries
	if err := h.audit.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).Warn("audit write failed")
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"purged":  true,
		"entries": entries,
	})
}

func (h *AuthzHandlers) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		httputil.WriteServiceUnavailable(w, "request cancelled")
		return
	}
	h.logger.WithError(err).WithField("path", r.URL.Path).Error("authorization store request failed")
	httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization store unavailable")
}
