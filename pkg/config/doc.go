// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	BACKOFFICE_HOST="0.0.0.0"
//	BACKOFFICE_PORT="8080"
//	BACKOFFICE_READ_TIMEOUT="15s"
//	BACKOFFICE_SHUTDOWN_TIMEOUT="30s"
//
// Authorization store:
//
//	BACKOFFICE_POSTGRES_URL="postgres://backoffice@db/backoffice?sslmode=disable"
//	BACKOFFICE_POSTGRES_MAX_CONNS="20"
//	BACKOFFICE_RESOLUTION_TIMEOUT="3s"
//
// Role permission cache:
//
//	BACKOFFICE_CACHE_ENABLED="true"
//	BACKOFFICE_CACHE_TTL="1m"
//	BACKOFFICE_REDIS_URL="redis://redis:6379/0"  # optional shared tier
//	BACKOFFICE_CACHE_PURGE_SCHEDULE="@every 15m"
//
// Identity:
//
//	BACKOFFICE_IDENTITY_MODE="oidc"  # oidc, hmac
//	BACKOFFICE_OIDC_ISSUER_URL="https://login.agromano.com"
//	BACKOFFICE_OIDC_CLIENT_ID="backoffice"
//	BACKOFFICE_HMAC_SECRET="..."
//	BACKOFFICE_PERMISSIONS_CLAIM="permissions"
//
// Audit trail:
//
//	BACKOFFICE_AUDIT_ENABLED="true"
//	BACKOFFICE_AUDIT_DIR="/var/log/agromano/backoffice"  # rotated JSON lines
//	BACKOFFICE_AUDIT_DATABASE="false"  # authz_audit_events table, enables search
//	BACKOFFICE_AUDIT_MAX_FILE_MB="100"
//
// Observability settings:
//
//	BACKOFFICE_LOG_LEVEL="info"  # debug, info, warn, error
//	BACKOFFICE_METRICS_ENABLED="true"
//	BACKOFFICE_OTEL_ENABLED="true"
//	BACKOFFICE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("listening on %s\n", cfg.Server.Addr())
package config
