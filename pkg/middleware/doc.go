// Package middleware provides HTTP middleware for authentication, authorization and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token verification and authorization resolution
//
//	auth := middleware.NewAuthMiddleware(verifier, engine, logger)
//	router.Use(auth.Handler)
//	// 401 UNAUTHORIZED, 500 STORE_UNAVAILABLE, 503 when resolution is cancelled
//
// GuardMiddleware: permission and role checks over the resolved context
//
//	guards := middleware.NewGuardMiddleware(metrics)
//	router.Handle("/catalog", guards.RequireRole("ADMIN_AGROMANO")(handler))
//	// 403 with {"code","missing","required_role"}
//
// RateLimitMiddleware: per-account limits, keyed by client address before authentication
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
//
// # Related Packages
//
//   - pkg/identity: token verification
//   - pkg/authz: resolution engine and guards
package middleware
