package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agromano/backoffice/pkg/contextkeys"
	"github.com/agromano/backoffice/pkg/observability"
)

const tracerName = "github.com/agromano/backoffice/pkg/authz"

// Resolution outcomes reported to the Recorder
const (
	OutcomeResolved         = "resolved"
	OutcomeTokenOnly        = "token_only"
	OutcomeFallback         = "fallback"
	OutcomeUnauthenticated  = "unauthenticated"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeCancelled        = "cancelled"
)

// Recorder receives resolution telemetry
type Recorder interface {
	ObserveResolution(outcome string, elapsed time.Duration)
	ObserveDatabaseTier(tier string)
	ObserveFallback(roleCode string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveResolution(string, time.Duration) {}
func (nopRecorder) ObserveDatabaseTier(string)              {}
func (nopRecorder) ObserveFallback(string)                  {}

// Store is the full persistence boundary of the engine
type Store interface {
	AccountStore
	RoleStore
	PermissionStore
}

// Engine runs the resolution pipeline: identity, then both permission sources
// concurrently, then merge
type Engine struct {
	resolver *IdentityResolver
	database *DatabasePermissionSource
	token    TokenPermissionSource
	merge    *MergeEngine

	permissions PermissionStore
	catalog     *PermissionCatalog
	recorder    Recorder
	logger      *observability.Logger
	tracer      trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithCatalog replaces the embedded catalog
func WithCatalog(c *PermissionCatalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithPermissionStore routes role -> permission reads through ps, typically a cache
func WithPermissionStore(ps PermissionStore) Option {
	return func(e *Engine) { e.permissions = ps }
}

// WithRecorder sets the telemetry sink
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the fallback logger used when the request context carries none
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine wires the pipeline over store
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		permissions: store,
		recorder:    nopRecorder{},
		logger:      observability.NopLogger(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.resolver = NewIdentityResolver(store, store)
	e.database = NewDatabasePermissionSource(store, e.permissions)
	e.merge = NewMergeEngine(e.catalog)
	e.catalog = e.merge.catalog
	return e
}

// Catalog returns the catalog the engine falls back to
func (e *Engine) Catalog() *PermissionCatalog {
	return e.catalog
}

type sourceResult struct {
	permissions PermissionSet
	tier        Tier
}

// permissionSource is one independent producer of permissions for a resolved identity
type permissionSource struct {
	name  string
	fetch func(ctx context.Context, assertion *IdentityAssertion, resolved ResolvedIdentity) (sourceResult, error)
}

const (
	sourceToken    = "token"
	sourceDatabase = "database"
)

// sources lists the permission sources in evaluation order
func (e *Engine) sources() []permissionSource {
	return []permissionSource{
		{
			name: sourceToken,
			fetch: func(_ context.Context, assertion *IdentityAssertion, _ ResolvedIdentity) (sourceResult, error) {
				return sourceResult{permissions: e.token.Extract(assertion)}, nil
			},
		},
		{
			name: sourceDatabase,
			fetch: func(ctx context.Context, _ *IdentityAssertion, resolved ResolvedIdentity) (sourceResult, error) {
				set, tier, err := e.database.Fetch(ctx, resolved.Account)
				return sourceResult{permissions: set, tier: tier}, err
			},
		},
	}
}

// Resolve produces the AuthorizationContext for a verified assertion.
//
// Errors: ErrUnauthenticated, ErrUnauthorized, ErrStoreUnavailable and
// ErrResolutionCancelled. Schema drift is always absorbed.
func (e *Engine) Resolve(ctx context.Context, assertion *IdentityAssertion) (*AuthorizationContext, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "authz.Resolve")
	defer span.End()

	authzCtx, outcome, err := e.resolve(ctx, assertion)

	e.recorder.ObserveResolution(outcome, time.Since(start))
	span.SetAttributes(attribute.String("authz.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		e.loggerFor(ctx).WithError(err).WithField("outcome", outcome).Debug("authorization not resolved")
		return nil, err
	}

	if id, ok := authzCtx.AccountID(); ok {
		span.SetAttributes(attribute.Int64("authz.account_id", id))
	}
	span.SetAttributes(attribute.Int("authz.permissions", authzCtx.effective.Len()))
	return authzCtx, nil
}

func (e *Engine) resolve(ctx context.Context, assertion *IdentityAssertion) (*AuthorizationContext, string, error) {
	if assertion == nil {
		return nil, OutcomeUnauthenticated, ErrUnauthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, OutcomeCancelled, fmt.Errorf("%w: %w", ErrResolutionCancelled, err)
	}

	logger := e.loggerFor(ctx)

	resolved, err := e.resolver.Resolve(ctx, assertion)
	if err != nil {
		outcome, err := e.failure(ctx, logger, err)
		return nil, outcome, err
	}

	sources := e.sources()
	results := make([]sourceResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			res, err := src.fetch(gctx, assertion, resolved)
			if err != nil {
				return fmt.Errorf("%s source: %w", src.name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		outcome, err := e.failure(ctx, logger, err)
		return nil, outcome, err
	}

	// both sources finished; a context that ended meanwhile still fails closed
	if err := ctx.Err(); err != nil {
		return nil, OutcomeCancelled, fmt.Errorf("%w: %w", ErrResolutionCancelled, err)
	}

	var db, token sourceResult
	for i, src := range sources {
		switch src.name {
		case sourceToken:
			token = results[i]
		case sourceDatabase:
			db = results[i]
		}
	}

	if resolved.Account != nil {
		e.recorder.ObserveDatabaseTier(string(db.tier))
		if db.tier == TierDegraded {
			logger.WithField("account_id", resolved.Account.AccountID).
				Warn("schema drift detected, permissions read through the degraded tier")
		}
	}

	authzCtx := e.merge.Merge(resolved, db.permissions, token.permissions)
	prov := authzCtx.Provenance()

	switch {
	case prov.FromFallback:
		role, _ := authzCtx.RoleCode()
		e.recorder.ObserveFallback(role)
		logger.WithFields(map[string]interface{}{
			"account_id": resolved.Account.AccountID,
			"role":       role,
		}).Warn("no permissions from token or database, static catalog fallback applied")
		return authzCtx, OutcomeFallback, nil
	case resolved.UsedTokenFallback:
		logger.WithField("permissions", authzCtx.effective.Len()).
			Info("no local account matched, using token permissions only")
		return authzCtx, OutcomeTokenOnly, nil
	}

	return authzCtx, OutcomeResolved, nil
}

// failure maps an error onto its outcome and logs store faults
func (e *Engine) failure(ctx context.Context, logger *observability.Logger, err error) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrResolutionCancelled) {
		err = fmt.Errorf("%w: %w", ErrResolutionCancelled, ctxErr)
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return OutcomeUnauthenticated, err
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized, err
	case errors.Is(err, ErrResolutionCancelled):
		return OutcomeCancelled, err
	default:
		logger.WithError(err).Error("authorization store failure")
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return OutcomeStoreUnavailable, err
	}
}

func (e *Engine) loggerFor(ctx context.Context) *observability.Logger {
	if l, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
		return l
	}
	return e.logger
}

// WithAuthorization stores the resolved context on ctx
func WithAuthorization(ctx context.Context, authzCtx *AuthorizationContext) context.Context {
	return contextkeys.WithAuthorization(ctx, authzCtx)
}

// FromContext returns the resolved context stored on ctx
func FromContext(ctx context.Context) (*AuthorizationContext, bool) {
	authzCtx, ok := ctx.Value(contextkeys.AuthorizationKey).(*AuthorizationContext)
	return authzCtx, ok && authzCtx != nil
}
