// Package authz resolves what an authenticated caller may do in the back office.
//
// # Overview
//
// A request arrives with an identity assertion that was already verified upstream.
// The Engine turns it into an immutable AuthorizationContext by reconciling three
// sources of permissions:
//
//  1. permission claims carried by the assertion
//  2. the role -> permission mapping in the relational store
//  3. a static catalog, consulted only for administrative roles
//
// # Pipeline
//
//	assertion -> IdentityResolver -> { TokenPermissionSource, DatabasePermissionSource } -> MergeEngine
//
// The two permission sources run concurrently. The effective set is their union.
// When that union is empty and the account's role is administrative, the catalog
// entry for the role is used instead. Non-administrative and unresolved callers
// never receive catalog permissions.
//
// The database source walks an ordered tier list: strict (soft-delete and active
// filters), then relaxed (no filters), with a degraded tier that takes over when
// the live schema is missing a column or table the queries expect.
//
// # Usage
//
//	engine := authz.NewEngine(authz.NewSQLStore(db))
//	authzCtx, err := engine.Resolve(ctx, assertion)
//	if err != nil {
//		// ErrUnauthorized, ErrStoreUnavailable, ErrResolutionCancelled ...
//	}
//	if d := authz.RequirePermission(authzCtx, "nomina:process"); !d.Allowed {
//		// d.Denial carries the missing permissions
//	}
//
// # Caching
//
// CachedPermissionStore puts an expiring LRU, and optionally Redis, in front of the
// role -> permission queries. Failures are never cached.
package authz
