// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between packages are keyed here. This keeps
// the key type private to one place and documents who sets and reads each value.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithAuthorization(ctx, authzCtx)
//	authzCtx, _ := ctx.Value(contextkeys.AuthorizationKey).(*authz.AuthorizationContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthorizationKey contains *authz.AuthorizationContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: guard middlewares, /api/v1/me/authorization
	// Type: *authz.AuthorizationContext
	AuthorizationKey Key = "authorization_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// AccountIDKey contains the resolved local account id as a decimal string
	// Set by: middleware.AuthMiddleware when an account was resolved
	// Used by: Logger
	// Type: string
	AccountIDKey Key = "account_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithAuthorization adds the resolved authorization context
func WithAuthorization(ctx context.Context, authzCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthorizationKey, authzCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAccountID adds the local account id to the context
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetAccountID retrieves the account id from context
func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok {
		return accountID
	}
	return ""
}
