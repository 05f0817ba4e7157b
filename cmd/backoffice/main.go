package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agromano/backoffice/pkg/api"
	"github.com/agromano/backoffice/pkg/audit"
	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/config"
	"github.com/agromano/backoffice/pkg/httputil"
	"github.com/agromano/backoffice/pkg/identity"
	"github.com/agromano/backoffice/pkg/middleware"
	"github.com/agromano/backoffice/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var envFile = flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")

func main() {
	flag.Parse()

	// Startup failures are reported before the structured logger exists
	boot := setupLogger(os.Getenv("BACKOFFICE_LOG_LEVEL"))

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			boot.Fatalf("Failed to load %s: %v", *envFile, err)
		}
		boot.Infof("Loaded environment from %s", *envFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		boot.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		boot.Fatalf("Failed to connect to database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err = connectRedis(ctx, cfg.Cache)
		if err != nil {
			boot.Fatalf("Failed to connect to redis: %v", err)
		}
	}

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		observability.RegisterDBStats(registry, db)
	}

	store := authz.NewSQLStore(db)
	engineOpts := []authz.Option{
		authz.WithLogger(logger),
		authz.WithTracer(observability.Tracer("github.com/agromano/backoffice/pkg/authz")),
	}
	if metrics != nil {
		engineOpts = append(engineOpts, authz.WithRecorder(metrics))
	}

	var cache *authz.CachedPermissionStore
	if cfg.Cache.Enabled {
		cache = newPermissionCache(store, cfg.Cache, redisClient, metrics, logger)
		engineOpts = append(engineOpts, authz.WithPermissionStore(cache))
	}

	engine := authz.NewEngine(store, engineOpts...)

	verifier, err := newVerifier(ctx, cfg.Identity)
	if err != nil {
		boot.Fatalf("Failed to create %s verifier: %v", cfg.Identity.Mode, err)
	}

	auditLog, err := newAuditLogger(ctx, cfg.Audit, db, logger)
	if err != nil {
		boot.Fatalf("Failed to set up audit trail: %v", err)
	}

	opts := api.ServerOptions{
		Verifier:          verifier,
		Resolver:          engine,
		Catalog:           engine.Catalog(),
		Roles:             store,
		Permissions:       store,
		Limiter:           newLimiter(ctx, cfg.RateLimit, redisClient),
		Metrics:           metrics,
		Registry:          registry,
		Health:            observability.NewHealthChecker(db, redisClient, version),
		Logger:            logger,
		ResolutionTimeout: cfg.Authz.ResolutionTimeout,
	}
	if cache != nil {
		opts.Cache = cache
	}
	if auditLog != nil {
		opts.Audit = auditLog
		opts.AuditSearch = auditLog
	}
	server := api.NewServer(opts)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)(server)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "backoffice"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if auditLog != nil {
		shutdown.Register("audit", func(context.Context) error { return auditLog.Close() })
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("tracing", func(ctx context.Context) error { return observability.ShutdownTracing(ctx, tp) })

	if cache != nil && cfg.Cache.PurgeSchedule != "" {
		scheduler, err := schedulePurge(cache, cfg.Cache.PurgeSchedule, logger)
		if err != nil {
			boot.Fatalf("Failed to schedule cache purge: %v", err)
		}
		scheduler.Start()
		shutdown.Register("cron", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":          httpServer.Addr,
			"identity_mode": cfg.Identity.Mode,
			"cache":         cfg.Cache.Enabled,
			"shared_cache":  redisClient != nil,
		}).Info("starting back office server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	if err := shutdown.WaitForSignal(ctx); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func connectRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func newPermissionCache(store authz.PermissionStore, cfg config.CacheConfig, client *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *authz.CachedPermissionStore {
	opts := []authz.CacheOption{authz.WithCacheLogger(logger)}
	if client != nil {
		opts = append(opts, authz.WithSharedCache(authz.NewRedisPermissionCache(client, cfg.RedisPrefix, cfg.TTL)))
	}
	if metrics != nil {
		opts = append(opts, authz.WithCacheRecorder(metrics))
	}
	return authz.NewCachedPermissionStore(store, cfg.Size, cfg.TTL, opts...)
}

// newAuditLogger returns nil when auditing is disabled. Without a directory or
// the database, events go to the service log.
func newAuditLogger(ctx context.Context, cfg config.AuditConfig, db *sql.DB, logger *observability.Logger) (*audit.MultiLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var destinations []audit.Logger
	if cfg.Database {
		dbLogger, err := audit.NewDBLogger(ctx, db)
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, dbLogger)
	}
	if cfg.Dir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Dir,
			Rotate:   true,
			MaxSize:  int64(cfg.MaxFileMB) * 1024 * 1024,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, fileLogger)
	}
	if len(destinations) == 0 {
		destinations = append(destinations, audit.NewStructuredLogger(logger))
	}

	return audit.NewMultiLogger(destinations...), nil
}

func newVerifier(ctx context.Context, cfg config.IdentityConfig) (identity.Verifier, error) {
	mapper := identity.ClaimsMapper{PermissionsClaim: cfg.PermissionsClaim}

	switch cfg.Mode {
	case config.IdentityModeHMAC:
		return identity.NewHMACVerifier(identity.HMACOptions{
			Secret:   cfg.HMACSecret,
			Issuer:   cfg.HMACIssuer,
			Audience: cfg.HMACAudience,
			Leeway:   cfg.Leeway,
		}, mapper)
	default:
		return identity.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, mapper)
	}
}

// newLimiter shares buckets through Redis when it is configured so every replica
// enforces the same budget
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client) middleware.Limiter {
	if !cfg.Enabled {
		return nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, limits, "")
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

func schedulePurge(cache *authz.CachedPermissionStore, schedule string, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(logger, "cache purge")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		entries := cache.Len()
		if err := cache.Purge(ctx); err != nil {
			logger.WithError(err).Warn("scheduled cache purge failed")
			return
		}
		logger.WithField("entries", entries).Debug("scheduled cache purge completed")
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}
