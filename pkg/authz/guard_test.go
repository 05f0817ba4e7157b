package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supervisorContext() *AuthorizationContext {
	id := int64(20)
	return NewAuthorizationContext(&id, "SUPERVISOR_CAMPO",
		NewPermissionSet("asistencia:read:all", "asistencia:approve"),
		Provenance{FromDatabase: true},
	)
}

func TestRequirePermission(t *testing.T) {
	c := supervisorContext()

	d := RequirePermission(c, "asistencia:approve")
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Denial)

	d = RequirePermission(c, "nomina:process")
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Denial)
	assert.Equal(t, DenialInsufficientPermissions, d.Denial.Code)
	assert.Equal(t, []string{"nomina:process"}, d.Denial.Missing)
}

func TestRequireAllPermissions(t *testing.T) {
	c := supervisorContext()

	assert.True(t, RequireAllPermissions(c, "asistencia:read:all", "asistencia:approve").Allowed)
	assert.True(t, RequireAllPermissions(c).Allowed)

	d := RequireAllPermissions(c, "nomina:process", "asistencia:approve", "cuadrillas:manage")
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Denial)
	assert.Equal(t, []string{"cuadrillas:manage", "nomina:process"}, d.Denial.Missing)
}

func TestRequireAnyPermission(t *testing.T) {
	c := supervisorContext()

	assert.True(t, RequireAnyPermission(c, "nomina:process", "asistencia:approve").Allowed)

	d := RequireAnyPermission(c, "nomina:process", "roles:manage")
	assert.False(t, d.Allowed)
	assert.Equal(t, DenialInsufficientPermissions, d.Denial.Code)
	assert.Equal(t, []string{"nomina:process", "roles:manage"}, d.Denial.Missing)

	d = RequireAnyPermission(c)
	assert.False(t, d.Allowed)
}

func TestRequireRole(t *testing.T) {
	c := supervisorContext()

	assert.True(t, RequireRole(c, "SUPERVISOR_CAMPO").Allowed)

	d := RequireRole(c, "ADMIN_AGROMANO")
	assert.False(t, d.Allowed)
	assert.Equal(t, DenialInsufficientRole, d.Denial.Code)
	assert.Equal(t, "ADMIN_AGROMANO", d.Denial.RequiredRole)

	tokenOnly := NewAuthorizationContext(nil, "", NewPermissionSet("mobile:access"), Provenance{FromToken: true})
	assert.False(t, RequireRole(tokenOnly, "").Allowed)
	assert.False(t, RequireRole(tokenOnly, "EMPLEADO_CAMPO").Allowed)
}

func TestGuards_NilContext(t *testing.T) {
	for _, d := range []Decision{
		RequirePermission(nil, "a"),
		RequireAllPermissions(nil, "a"),
		RequireAnyPermission(nil, "a"),
		RequireRole(nil, "ADMIN_AGROMANO"),
	} {
		assert.False(t, d.Allowed)
		require.NotNil(t, d.Denial)
		assert.Equal(t, DenialUnauthorized, d.Denial.Code)
	}
}

func TestGuards_ExactMembership(t *testing.T) {
	empty := NewAuthorizationContext(nil, "", NewPermissionSet(), Provenance{FromToken: true})
	c := supervisorContext()

	tests := []struct {
		name     string
		decision Decision
		missing  []string
	}{
		{"blank on empty context", RequirePermission(empty, ""), []string{""}},
		{"blank on populated context", RequirePermission(c, ""), []string{""}},
		{"padded code", RequirePermission(c, " asistencia:approve "), []string{" asistencia:approve "}},
		{"all with blank", RequireAllPermissions(c, "asistencia:approve", ""), []string{""}},
		{"all with padded", RequireAllPermissions(c, "asistencia:read:all ", "asistencia:read:all "), []string{"asistencia:read:all "}},
		{"any with blank and padded", RequireAnyPermission(c, "", "\tasistencia:approve"), []string{"", "\tasistencia:approve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.decision.Allowed)
			require.NotNil(t, tt.decision.Denial)
			assert.Equal(t, DenialInsufficientPermissions, tt.decision.Denial.Code)
			assert.Equal(t, tt.missing, tt.decision.Denial.Missing)
		})
	}
}

func TestGuards_SetSemantics(t *testing.T) {
	c := supervisorContext()
	effective := c.EffectivePermissions()

	candidates := [][]string{
		{"asistencia:read:all"},
		{"asistencia:read:all", "asistencia:approve"},
		{"asistencia:approve", "nomina:process"},
		{"nomina:process"},
		{"nomina:process", "roles:manage"},
	}

	for _, ps := range candidates {
		required := NewPermissionSet(ps...)

		subset := required.Difference(effective).Len() == 0
		assert.Equal(t, subset, RequireAllPermissions(c, ps...).Allowed, "all %v", ps)

		intersects := required.Len()-required.Difference(effective).Len() > 0
		assert.Equal(t, intersects, RequireAnyPermission(c, ps...).Allowed, "any %v", ps)
	}
}

func TestDenial_Error(t *testing.T) {
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS: missing a, b",
		(&Denial{Code: DenialInsufficientPermissions, Missing: []string{"a", "b"}}).Error())
	assert.Equal(t, "INSUFFICIENT_ROLE: requires role ADMIN_AGROMANO",
		(&Denial{Code: DenialInsufficientRole, RequiredRole: "ADMIN_AGROMANO"}).Error())
	assert.Equal(t, "UNAUTHORIZED", (&Denial{Code: DenialUnauthorized}).Error())
}
