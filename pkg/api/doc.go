// Package api exposes the back office authorization surface over HTTP.
//
// Every route under /api/v1 runs behind bearer token verification and
// authorization resolution; the resolved context is available to handlers via
// authz.FromContext. Admin diagnostics are guarded per route:
//
//	GET  /api/v1/me/authorization                     any authenticated caller
//	GET  /api/v1/authz/catalog                        ADMIN_AGROMANO
//	GET  /api/v1/authz/roles/{role_id}/permissions    ADMIN_AGROMANO
//	POST /api/v1/authz/cache/purge                    usuarios:manage
//	GET  /api/v1/authz/audit                          ADMIN_AGROMANO
//
// When an audit logger is configured, fallback grants, token-only grants and
// denials on these routes are recorded.
//
// Health and metrics routes are unauthenticated.
package api
