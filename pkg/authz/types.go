package authz

import (
	"encoding/json"
	"sort"
	"strings"
)

// PermissionSet is an unordered set of permission codes
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codes, dropping blanks and duplicates
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Len returns the number of permissions in the set
func (s PermissionSet) Len() int {
	return len(s)
}

// Union returns a new set holding every member of s and other
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for code := range s {
		out[code] = struct{}{}
	}
	for code := range other {
		out[code] = struct{}{}
	}
	return out
}

// Difference returns the members of s that are not in other
func (s PermissionSet) Difference(other PermissionSet) PermissionSet {
	out := make(PermissionSet)
	for code := range s {
		if !other.Has(code) {
			out[code] = struct{}{}
		}
	}
	return out
}

// Clone returns an independent copy of the set
func (s PermissionSet) Clone() PermissionSet {
	return s.Union(nil)
}

// Sorted returns the members in lexical order
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold exactly the same codes
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for code := range s {
		if !other.Has(code) {
			return false
		}
	}
	return true
}

// IdentityAssertion is the already-verified identity presented with a request.
// It is produced once per request by the verification step and never modified.
type IdentityAssertion struct {
	ExternalSubjectID  string
	ClaimedEmail       string
	ClaimedPermissions PermissionSet
}

// AccountStatus is the lifecycle state of a local account
type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVO"
	StatusInactive  AccountStatus = "INACTIVO"
	StatusSuspended AccountStatus = "SUSPENDIDO"
)

// ParseAccountStatus normalises a stored status value. Matching is
// case-insensitive; unknown values are kept upper-cased.
func ParseAccountStatus(raw string) AccountStatus {
	return AccountStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsActive reports whether the status allows the account to be used
func (s AccountStatus) IsActive() bool {
	return ParseAccountStatus(string(s)) == StatusActive
}

// LocalAccount links an external identity to a role in this system
type LocalAccount struct {
	AccountID         int64         `json:"account_id"`
	ExternalSubjectID *string       `json:"external_subject_id,omitempty"`
	Username          string        `json:"username"`
	RoleID            int64         `json:"role_id"`
	RoleCode          string        `json:"role_code,omitempty"`
	Status            AccountStatus `json:"status"`
	LinkedPersonID    *int64        `json:"linked_person_id,omitempty"`
}

// Role is a named group of permissions
type Role struct {
	RoleID int64  `json:"role_id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

// Permission is a grantable capability identified by its code
type Permission struct {
	Code     string `json:"code"`
	IsActive bool   `json:"is_active"`
}

// ResolvedIdentity is the outcome of matching an assertion to a local account
type ResolvedIdentity struct {
	Account           *LocalAccount
	UsedTokenFallback bool
}

// Provenance records which sources contributed to an effective permission set
type Provenance struct {
	FromToken    bool `json:"from_token"`
	FromDatabase bool `json:"from_database"`
	FromFallback bool `json:"from_fallback"`
}

// AuthorizationContext is the resolved, read-only authorization state for one
// request. Build it with NewAuthorizationContext; it is never modified afterwards.
type AuthorizationContext struct {
	accountID  *int64
	roleCode   string
	effective  PermissionSet
	provenance Provenance
}

// NewAuthorizationContext copies its inputs so later changes to them cannot leak in
func NewAuthorizationContext(accountID *int64, roleCode string, effective PermissionSet, provenance Provenance) *AuthorizationContext {
	var id *int64
	if accountID != nil {
		v := *accountID
		id = &v
	}
	return &AuthorizationContext{
		accountID:  id,
		roleCode:   roleCode,
		effective:  effective.Clone(),
		provenance: provenance,
	}
}

// AccountID returns the local account id, if one was resolved
func (c *AuthorizationContext) AccountID() (int64, bool) {
	if c == nil || c.accountID == nil {
		return 0, false
	}
	return *c.accountID, true
}

// RoleCode returns the resolved role code, if any
func (c *AuthorizationContext) RoleCode() (string, bool) {
	if c == nil || c.roleCode == "" {
		return "", false
	}
	return c.roleCode, true
}

// Has reports whether the effective set contains code
func (c *AuthorizationContext) Has(code string) bool {
	if c == nil {
		return false
	}
	return c.effective.Has(code)
}

// EffectivePermissions returns a copy of the effective permission set
func (c *AuthorizationContext) EffectivePermissions() PermissionSet {
	if c == nil {
		return PermissionSet{}
	}
	return c.effective.Clone()
}

// Provenance returns the source flags for the effective set
func (c *AuthorizationContext) Provenance() Provenance {
	if c == nil {
		return Provenance{}
	}
	return c.provenance
}

type authorizationContextJSON struct {
	AccountID            *int64     `json:"account_id,omitempty"`
	RoleCode             string     `json:"role_code,omitempty"`
	EffectivePermissions []string   `json:"effective_permissions"`
	Provenance           Provenance `json:"provenance"`
}

// MarshalJSON renders the context with a sorted permission list
func (c *AuthorizationContext) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return json.Marshal(authorizationContextJSON{
		AccountID:            c.accountID,
		RoleCode:             c.roleCode,
		EffectivePermissions: c.effective.Sorted(),
		Provenance:           c.provenance,
	})
}
