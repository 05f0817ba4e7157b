package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/contextkeys"
	"github.com/agromano/backoffice/pkg/httputil"
	"github.com/agromano/backoffice/pkg/identity"
	"github.com/agromano/backoffice/pkg/observability"
)

// Error codes written in the body of non-guard failures
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeResolutionCanceled = "RESOLUTION_CANCELLED"
)

// Resolver turns a verified assertion into an authorization context.
// *authz.Engine satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, assertion *authz.IdentityAssertion) (*authz.AuthorizationContext, error)
}

// AuthMiddleware authenticates the bearer token and attaches the resolved
// authorization context to the request
type AuthMiddleware struct {
	verifier identity.Verifier
	resolver Resolver
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new auth middleware. A nil logger discards output.
func NewAuthMiddleware(verifier identity.Verifier, resolver Resolver, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		verifier: verifier,
		resolver: resolver,
		logger:   logger,
	}
}

// errorBody is the JSON body of 401/500/503 responses
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Handler wraps an HTTP handler with authentication and authorization resolution
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rawToken, err := identity.BearerToken(r)
		if err != nil {
			unauthorizedResponse(w, err.Error())
			return
		}

		assertion, err := m.verifier.Verify(ctx, rawToken)
		if err != nil {
			m.logger.WithError(err).Debug("bearer token rejected")
			unauthorizedResponse(w, "invalid token")
			return
		}

		authzCtx, err := m.resolver.Resolve(ctx, assertion)
		if err != nil {
			m.resolutionFailed(w, r, err)
			return
		}

		ctx = authz.WithAuthorization(ctx, authzCtx)
		if id, ok := authzCtx.AccountID(); ok {
			ctx = contextkeys.WithAccountID(ctx, strconv.FormatInt(id, 10))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolutionFailed maps engine errors onto status codes. A store failure is a
// server error, never a denial.
func (m *AuthMiddleware) resolutionFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrUnauthorized):
		unauthorizedResponse(w, "unauthorized")
	case errors.Is(err, authz.ErrResolutionCancelled):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, errorBody{
			Code:  CodeResolutionCanceled,
			Error: "authorization resolution cancelled",
		})
	default:
		m.logger.WithError(err).
			WithField("request_id", contextkeys.GetRequestID(r.Context())).
			Error("authorization could not be resolved")
		httputil.WriteJSON(w, http.StatusInternalServerError, errorBody{
			Code:  CodeStoreUnavailable,
			Error: "authorization store unavailable",
		})
	}
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, errorBody{
		Code:  CodeUnauthorized,
		Error: message,
	})
}

// GetAuthorization retrieves the resolved authorization context from the request
func GetAuthorization(r *http.Request) *authz.AuthorizationContext {
	authzCtx, _ := authz.FromContext(r.Context())
	return authzCtx
}
