// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the back office.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role", "ADMIN_AGROMANO").Warn("static fallback applied")
//
// Request-scoped logging picks up the request id and account id:
//
//	observability.FromContext(r.Context()).Info("authorization resolved")
//
// # Prometheus Metrics
//
// Metrics implements the recorder interfaces of pkg/authz and pkg/middleware:
//
//	metrics := observability.NewMetrics(registry)
//	engine := authz.NewEngine(store, authz.WithRecorder(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp)
package observability
