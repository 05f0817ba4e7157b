package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agromano/backoffice/pkg/audit"
	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/httputil"
	"github.com/agromano/backoffice/pkg/identity"
	"github.com/agromano/backoffice/pkg/middleware"
	"github.com/agromano/backoffice/pkg/observability"
)

// ServerOptions carries the dependencies of the HTTP surface. Verifier, Resolver
// and Catalog are required; everything else is optional.
type ServerOptions struct {
	Verifier identity.Verifier
	Resolver middleware.Resolver
	Catalog  *authz.PermissionCatalog

	// Roles and Permissions back the role diagnostic route
	Roles       authz.RoleStore
	Permissions authz.PermissionStore

	// Cache is purged by the admin purge route; nil answers 503
	Cache CachePurger

	Limiter middleware.Limiter

	// Audit receives authorization events; AuditSearch backs GET /authz/audit
	Audit       audit.Logger
	AuditSearch audit.Searcher

	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker
	Logger   *observability.Logger

	// ResolutionTimeout bounds every authenticated request, resolution included
	ResolutionTimeout time.Duration
}

// Server represents the back office API server
type Server struct {
	router *mux.Router
	opts   ServerOptions
	logger *observability.Logger
	guards *middleware.GuardMiddleware
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	// a nil *Metrics must not reach the guard as a non-nil interface
	var recorder middleware.GuardRecorder
	if opts.Metrics != nil {
		recorder = opts.Metrics
	}

	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		logger: logger,
		guards: middleware.NewGuardMiddleware(recorder),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics, routeTemplate))
	}

	// Health routes
	if s.opts.Health != nil {
		s.router.HandleFunc("/health", s.opts.Health.Readiness).Methods("GET")
		s.router.HandleFunc("/health/live", s.opts.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.opts.Health.Readiness).Methods("GET")
	}

	if s.opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Registry)).Methods("GET")
	}

	// Authenticated routes
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	if s.opts.ResolutionTimeout > 0 {
		v1.Use(httputil.TimeoutMiddleware(s.opts.ResolutionTimeout))
	}

	// audit wraps authentication so resolver rejections are recorded too
	var auditor *audit.Middleware
	if s.opts.Audit != nil {
		auditor = audit.NewMiddleware(s.opts.Audit, s.logger)
		v1.Use(auditor.Handler)
	}
	v1.Use(middleware.NewAuthMiddleware(s.opts.Verifier, s.opts.Resolver, s.logger).Handler)
	if auditor != nil {
		v1.Use(auditor.Capture)
	}
	if s.opts.Limiter != nil {
		v1.Use(middleware.NewRateLimitMiddleware(s.opts.Limiter, s.logger).Handler)
	}

	authzHandlers := NewAuthzHandlers(AuthzHandlersConfig{
		Catalog:     s.opts.Catalog,
		Roles:       s.opts.Roles,
		Permissions: s.opts.Permissions,
		Cache:       s.opts.Cache,
		Audit:       s.opts.Audit,
		Guards:      s.guards,
		Logger:      s.logger,
	})
	authzHandlers.RegisterRoutes(v1)

	NewAuditHandlers(s.opts.AuditSearch, s.guards, s.logger).RegisterRoutes(v1)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// routeTemplate labels metrics with the matched route so ids never become label values
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
