// Package audit records authorization decisions worth reviewing later: requests
// served from the static fallback catalog, requests authorized from token claims
// alone, guard denials, and manual cache purges.
//
// Destinations implement Logger. DBLogger writes to the authz_audit_events table
// and can be searched; FileLogger writes rotated newline-delimited JSON;
// StructuredLogger emits through the service logger. MultiLogger fans out.
//
//	auditLog := audit.NewMultiLogger(dbLogger, fileLogger)
//	auditor := audit.NewMiddleware(auditLog, logger)
//	router.Use(auditor.Handler)   // before authentication
//	router.Use(auth.Handler)
//	router.Use(auditor.Capture)   // after authentication
package audit
