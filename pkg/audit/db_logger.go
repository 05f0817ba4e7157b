package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger and ensures its table exists
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_audit_events table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit table. It is owned by this service, unlike the
// account and role tables which are only read.
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS authz_audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		account_id BIGINT,
		role_code VARCHAR(64),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		ip_address VARCHAR(45),
		message TEXT,
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_authz_audit_timestamp ON authz_audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_account ON authz_audit_events(account_id);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_event_type ON authz_audit_events(event_type);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log implements Logger
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = raw
	}

	query := `
		INSERT INTO authz_audit_events (
			timestamp, event_type, status,
			account_id, role_code,
			request_id, method, path, status_code, ip_address,
			message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.AccountID, nullString(event.RoleCode),
		nullString(event.RequestID), nullString(event.Method), nullString(event.Path), nullInt(event.StatusCode), nullString(event.IPAddress),
		nullString(event.Message), metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Search implements Searcher. Results are newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			account_id, role_code,
			request_id, method, path, status_code, ip_address,
			message, metadata
		FROM authz_audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.AccountID != nil {
		query += fmt.Sprintf(" AND account_id = $%d", argCount)
		args = append(args, *filter.AccountID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		args = append(args, pq.Array(types))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}

		var accountID, statusCode sql.NullInt64
		var roleCode, requestID, method, path, ip, msg sql.NullString
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&accountID, &roleCode,
			&requestID, &method, &path, &statusCode, &ip,
			&msg, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if accountID.Valid {
			id := accountID.Int64
			event.AccountID = &id
		}
		event.RoleCode = roleCode.String
		event.RequestID = requestID.String
		event.Method = method.String
		event.Path = path.String
		event.StatusCode = int(statusCode.Int64)
		event.IPAddress = ip.String
		event.Message = msg.String

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Close implements Logger. The database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
