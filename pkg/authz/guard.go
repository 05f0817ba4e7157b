package authz

import "slices"

// Decision is the outcome of a guard check. Denial is nil when Allowed is true.
type Decision struct {
	Allowed bool
	Denial  *Denial
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(d *Denial) Decision {
	return Decision{Denial: d}
}

func unauthorized() *Denial {
	return &Denial{Code: DenialUnauthorized}
}

// RequirePermission allows when the context holds exactly permission
func RequirePermission(c *AuthorizationContext, permission string) Decision {
	if c == nil {
		return deny(unauthorized())
	}
	if c.Has(permission) {
		return allow()
	}
	return deny(&Denial{
		Code:    DenialInsufficientPermissions,
		Missing: []string{permission},
	})
}

// RequireAllPermissions allows when every permission is held. Codes are matched
// as given, so a blank or padded code is never held. The denial lists the
// missing codes in lexical order.
func RequireAllPermissions(c *AuthorizationContext, permissions ...string) Decision {
	if c == nil {
		return deny(unauthorized())
	}
	var missing []string
	for _, code := range permissions {
		if !c.Has(code) {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return deny(&Denial{
			Code:    DenialInsufficientPermissions,
			Missing: sortedUnique(missing),
		})
	}
	return allow()
}

// RequireAnyPermission allows when at least one permission is held.
// An empty requirement list never allows.
func RequireAnyPermission(c *AuthorizationContext, permissions ...string) Decision {
	if c == nil {
		return deny(unauthorized())
	}
	for _, code := range permissions {
		if c.Has(code) {
			return allow()
		}
	}
	return deny(&Denial{
		Code:    DenialInsufficientPermissions,
		Missing: sortedUnique(permissions),
	})
}

func sortedUnique(codes []string) []string {
	out := slices.Clone(codes)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// RequireRole allows when the resolved role code equals role. A context without a
// role code is always denied.
func RequireRole(c *AuthorizationContext, role string) Decision {
	if c == nil {
		return deny(unauthorized())
	}
	if code, ok := c.RoleCode(); ok && code == role {
		return allow()
	}
	return deny(&Denial{
		Code:         DenialInsufficientRole,
		RequiredRole: role,
	})
}
