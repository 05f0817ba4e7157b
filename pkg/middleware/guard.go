package middleware

import (
	"net/http"

	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/httputil"
)

// GuardRecorder receives one observation per guard evaluation
type GuardRecorder interface {
	ObserveGuardDecision(guard string, allowed bool)
}

type nopGuardRecorder struct{}

func (nopGuardRecorder) ObserveGuardDecision(string, bool) {}

// Guard names reported to the recorder
const (
	GuardPermission     = "permission"
	GuardAllPermissions = "all_permissions"
	GuardAnyPermission  = "any_permission"
	GuardRole           = "role"
)

// GuardMiddleware enforces authorization checks on handlers that run behind
// AuthMiddleware
type GuardMiddleware struct {
	recorder GuardRecorder
}

// NewGuardMiddleware creates guard middleware. A nil recorder is allowed.
func NewGuardMiddleware(recorder GuardRecorder) *GuardMiddleware {
	if recorder == nil {
		recorder = nopGuardRecorder{}
	}
	return &GuardMiddleware{recorder: recorder}
}

// RequirePermission creates middleware that requires a specific permission
func (g *GuardMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return g.guard(GuardPermission, func(c *authz.AuthorizationContext) authz.Decision {
		return authz.RequirePermission(c, permission)
	})
}

// RequireAllPermissions creates middleware that requires every listed permission
func (g *GuardMiddleware) RequireAllPermissions(permissions ...string) func(http.Handler) http.Handler {
	return g.guard(GuardAllPermissions, func(c *authz.AuthorizationContext) authz.Decision {
		return authz.RequireAllPermissions(c, permissions...)
	})
}

// RequireAnyPermission creates middleware that requires at least one listed permission
func (g *GuardMiddleware) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return g.guard(GuardAnyPermission, func(c *authz.AuthorizationContext) authz.Decision {
		return authz.RequireAnyPermission(c, permissions...)
	})
}

// RequireRole creates middleware that requires the resolved role code
func (g *GuardMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return g.guard(GuardRole, func(c *authz.AuthorizationContext) authz.Decision {
		return authz.RequireRole(c, role)
	})
}

func (g *GuardMiddleware) guard(name string, check func(*authz.AuthorizationContext) authz.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := check(GetAuthorization(r))
			g.recorder.ObserveGuardDecision(name, decision.Allowed)

			if !decision.Allowed {
				deniedResponse(w, decision.Denial)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deniedResponse writes the denial body. A missing context is a 401, anything
// else a 403.
func deniedResponse(w http.ResponseWriter, denial *authz.Denial) {
	status := http.StatusForbidden
	if denial.Code == authz.DenialUnauthorized {
		status = http.StatusUnauthorized
	}
	httputil.WriteJSON(w, status, denial)
}
