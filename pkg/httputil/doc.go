// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "invalid role id")
//	httputil.WriteServiceUnavailable(w, "cache unavailable")
//
// # Request Parsing
//
//	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
//	if !ok {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.TimeoutMiddleware(5*time.Second),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and authorization middleware
package httputil
