package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IdentityResolver maps an identity assertion onto a local account
type IdentityResolver struct {
	accounts AccountStore
	roles    RoleStore
}

// NewIdentityResolver creates a resolver over the given stores
func NewIdentityResolver(accounts AccountStore, roles RoleStore) *IdentityResolver {
	return &IdentityResolver{
		accounts: accounts,
		roles:    roles,
	}
}

// Resolve finds the active local account for the assertion. Without a match it falls back
// to the token's own permission claims, and without those it returns ErrUnauthorized.
func (r *IdentityResolver) Resolve(ctx context.Context, assertion *IdentityAssertion) (ResolvedIdentity, error) {
	if assertion == nil {
		return ResolvedIdentity{}, ErrUnauthenticated
	}

	account, err := r.accounts.GetAccountByExternalIDOrUsername(ctx,
		strings.TrimSpace(assertion.ExternalSubjectID),
		strings.TrimSpace(assertion.ClaimedEmail),
	)
	switch {
	case errors.Is(err, ErrNotFound):
		account = nil
	case err != nil:
		return ResolvedIdentity{}, asStoreFailure("resolve identity", err)
	}

	if account != nil && !account.Status.IsActive() {
		account = nil
	}

	if account == nil {
		if assertion.ClaimedPermissions.Len() > 0 {
			return ResolvedIdentity{UsedTokenFallback: true}, nil
		}
		return ResolvedIdentity{}, ErrUnauthorized
	}

	resolved := *account
	account = &resolved

	if account.RoleCode == "" && account.RoleID != 0 {
		role, err := r.roles.GetRoleByID(ctx, account.RoleID)
		switch {
		case errors.Is(err, ErrNotFound):
			// role row missing: leave the code unset so no role-based rule can match
		case err != nil:
			return ResolvedIdentity{}, asStoreFailure("resolve role", err)
		default:
			account.RoleCode = role.Code
		}
	}

	return ResolvedIdentity{Account: account}, nil
}

// asStoreFailure makes sure every non-cancellation error carries ErrStoreUnavailable.
// Schema drift that escapes a store here has no degraded path left and is a store failure.
func asStoreFailure(op string, err error) error {
	if errors.Is(err, ErrResolutionCancelled) || errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrResolutionCancelled, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
