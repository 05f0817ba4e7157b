package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/agromano/backoffice/pkg/authz"
)

type recordedDecision struct {
	guard   string
	allowed bool
}

type guardRecorder struct {
	mu        sync.Mutex
	decisions []recordedDecision
}

func (r *guardRecorder) ObserveGuardDecision(guard string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, recordedDecision{guard, allowed})
}

func serveGuarded(t *testing.T, mw func(http.Handler) http.Handler, c *authz.AuthorizationContext) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	if c != nil {
		req = req.WithContext(authz.WithAuthorization(req.Context(), c))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestGuardMiddleware_Allows(t *testing.T) {
	g := NewGuardMiddleware(nil)

	guards := map[string]func(http.Handler) http.Handler{
		"permission":      g.RequirePermission("asistencia:approve"),
		"all permissions": g.RequireAllPermissions("asistencia:approve", "asistencia:read:all"),
		"any permission":  g.RequireAnyPermission("nomina:process", "mobile:access"),
		"role":            g.RequireRole("SUPERVISOR_CAMPO"),
	}

	for name, mw := range guards {
		t.Run(name, func(t *testing.T) {
			w, called := serveGuarded(t, mw, supervisor())
			if !called {
				t.Fatal("expected handler to be called")
			}
			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", w.Code)
			}
		})
	}
}

func TestGuardMiddleware_Denials(t *testing.T) {
	g := NewGuardMiddleware(nil)

	tests := []struct {
		name         string
		mw           func(http.Handler) http.Handler
		ctx          *authz.AuthorizationContext
		wantStatus   int
		wantCode     string
		wantMissing  []interface{}
		wantRequired interface{}
	}{
		{
			name:        "missing permissions are listed in order",
			mw:          g.RequireAllPermissions("nomina:process", "asistencia:approve", "empleados:create"),
			ctx:         supervisor(),
			wantStatus:  http.StatusForbidden,
			wantCode:    "INSUFFICIENT_PERMISSIONS",
			wantMissing: []interface{}{"empleados:create", "nomina:process"},
		},
		{
			name:        "any with none held",
			mw:          g.RequireAnyPermission("nomina:process", "empleados:create"),
			ctx:         supervisor(),
			wantStatus:  http.StatusForbidden,
			wantCode:    "INSUFFICIENT_PERMISSIONS",
			wantMissing: []interface{}{"empleados:create", "nomina:process"},
		},
		{
			name:         "wrong role",
			mw:           g.RequireRole("ADMIN_AGROMANO"),
			ctx:          supervisor(),
			wantStatus:   http.StatusForbidden,
			wantCode:     "INSUFFICIENT_ROLE",
			wantRequired: "ADMIN_AGROMANO",
		},
		{
			name: "token only context has no role",
			mw:   g.RequireRole("ADMIN_AGROMANO"),
			ctx: authz.NewAuthorizationContext(nil, "",
				authz.NewPermissionSet("mobile:access"), authz.Provenance{FromToken: true}),
			wantStatus:   http.StatusForbidden,
			wantCode:     "INSUFFICIENT_ROLE",
			wantRequired: "ADMIN_AGROMANO",
		},
		{
			name:       "no context",
			mw:         g.RequirePermission("mobile:access"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called := serveGuarded(t, tt.mw, tt.ctx)
			if called {
				t.Fatal("handler should not be called")
			}
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			body := decodeBody(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("expected code %s, got %v", tt.wantCode, body["code"])
			}
			if tt.wantMissing != nil && !reflect.DeepEqual(body["missing"], tt.wantMissing) {
				t.Errorf("expected missing %v, got %v", tt.wantMissing, body["missing"])
			}
			if body["required_role"] != tt.wantRequired {
				t.Errorf("expected required_role %v, got %v", tt.wantRequired, body["required_role"])
			}
		})
	}
}

func TestGuardMiddleware_DenialKeepsContext(t *testing.T) {
	g := NewGuardMiddleware(nil)
	c := supervisor()

	serveGuarded(t, g.RequirePermission("nomina:process"), c)

	w, called := serveGuarded(t, g.RequirePermission("asistencia:approve"), c)
	if !called || w.Code != http.StatusOK {
		t.Errorf("context should still authorize after a denial, got %d", w.Code)
	}
}

func TestGuardMiddleware_RecordsDecisions(t *testing.T) {
	rec := &guardRecorder{}
	g := NewGuardMiddleware(rec)

	serveGuarded(t, g.RequirePermission("asistencia:approve"), supervisor())
	serveGuarded(t, g.RequireRole("ADMIN_AGROMANO"), supervisor())
	serveGuarded(t, g.RequireAnyPermission(), supervisor())

	want := []recordedDecision{
		{GuardPermission, true},
		{GuardRole, false},
		{GuardAnyPermission, false},
	}
	if !reflect.DeepEqual(rec.decisions, want) {
		t.Errorf("expected decisions %v, got %v", want, rec.decisions)
	}
}

func TestGuardMiddleware_BlankRequirementDenies(t *testing.T) {
	g := NewGuardMiddleware(nil)
	empty := authz.NewAuthorizationContext(nil, "", authz.NewPermissionSet(), authz.Provenance{FromToken: true})

	w, called := serveGuarded(t, g.RequirePermission(""), empty)
	if called {
		t.Fatal("handler must not run for a blank permission requirement")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
