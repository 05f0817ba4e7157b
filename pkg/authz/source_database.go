package authz

import (
	"context"
	"errors"
)

// Tier names the step of the database cascade that produced a permission set
type Tier string

const (
	TierNone     Tier = "none"
	TierStrict   Tier = "strict"
	TierRelaxed  Tier = "relaxed"
	TierDegraded Tier = "degraded"
)

// DatabasePermissionSource reads role grants from the relational store.
//
// The cascade is an ordered list of tiers. The first tier that returns a non-empty
// set wins. An empty strict result moves on to the relaxed tier, which drops the
// soft-delete and active filters. A schema-drift failure in any tier abandons the
// list and runs the degraded tier, which re-reads the account's role through
// columns every schema version has and then runs the relaxed query. Drift inside
// the degraded tier produces an empty set. Every other error is returned.
type DatabasePermissionSource struct {
	accounts    AccountStore
	permissions PermissionStore
}

// NewDatabasePermissionSource creates a database source
func NewDatabasePermissionSource(accounts AccountStore, permissions PermissionStore) *DatabasePermissionSource {
	return &DatabasePermissionSource{
		accounts:    accounts,
		permissions: permissions,
	}
}

type tierStep struct {
	tier  Tier
	query func(ctx context.Context, roleID int64) ([]string, error)
}

func (s *DatabasePermissionSource) cascade() []tierStep {
	return []tierStep{
		{tier: TierStrict, query: s.permissions.ActivePermissionsForRole},
		{tier: TierRelaxed, query: s.permissions.AllPermissionsForRole},
	}
}

// Fetch returns the permissions granted to the account's role
func (s *DatabasePermissionSource) Fetch(ctx context.Context, account *LocalAccount) (PermissionSet, Tier, error) {
	if account == nil || account.RoleID == 0 {
		return PermissionSet{}, TierNone, nil
	}

	last := TierNone
	for _, step := range s.cascade() {
		codes, err := step.query(ctx, account.RoleID)
		if errors.Is(err, ErrSchemaDrift) {
			return s.degraded(ctx, account)
		}
		if err != nil {
			return nil, TierNone, asStoreFailure("fetch "+string(step.tier)+" permissions", err)
		}
		last = step.tier
		if set := NewPermissionSet(codes...); set.Len() > 0 {
			return set, step.tier, nil
		}
	}

	return PermissionSet{}, last, nil
}

func (s *DatabasePermissionSource) degraded(ctx context.Context, account *LocalAccount) (PermissionSet, Tier, error) {
	roleID, err := s.accounts.RoleIDForAccount(ctx, account.AccountID)
	switch {
	case errors.Is(err, ErrSchemaDrift), errors.Is(err, ErrNotFound):
		return PermissionSet{}, TierDegraded, nil
	case err != nil:
		return nil, TierNone, asStoreFailure("fetch degraded role", err)
	}

	codes, err := s.permissions.AllPermissionsForRole(ctx, roleID)
	switch {
	case errors.Is(err, ErrSchemaDrift):
		return PermissionSet{}, TierDegraded, nil
	case err != nil:
		return nil, TierNone, asStoreFailure("fetch degraded permissions", err)
	}

	return NewPermissionSet(codes...), TierDegraded, nil
}
