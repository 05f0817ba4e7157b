package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var searchColumns = []string{
	"id", "timestamp", "event_type", "status",
	"account_id", "role_code",
	"request_id", "method", "path", "status_code", "ip_address",
	"message", "metadata",
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS authz_audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(context.Background(), db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(context.Background(), nil)
		assert.Nil(t, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS authz_audit_events").WillReturnError(errors.New("permission denied for schema public"))

		logger, err := NewDBLogger(context.Background(), db)
		assert.Nil(t, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure authz_audit_events table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("denial with metadata", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		accountID := int64(20)
		event := &Event{
			Timestamp:  time.Now().UTC(),
			EventType:  EventAccessDenied,
			Status:     EventStatusDenied,
			AccountID:  &accountID,
			RoleCode:   "SUPERVISOR_CAMPO",
			RequestID:  "req-1",
			Method:     "GET",
			Path:       "/api/v1/authz/catalog",
			StatusCode: 403,
			IPAddress:  "10.0.0.1",
			Message:    "INSUFFICIENT_ROLE: requires role ADMIN_AGROMANO",
			Metadata:   map[string]interface{}{"code": "INSUFFICIENT_ROLE"},
		}

		mock.ExpectQuery("INSERT INTO authz_audit_events").
			WithArgs(
				sqlmock.AnyArg(), "authz.access_denied", "denied",
				int64(20), "SUPERVISOR_CAMPO",
				"req-1", "GET", "/api/v1/authz/catalog", int64(403), "10.0.0.1",
				"INSUFFICIENT_ROLE: requires role ADMIN_AGROMANO", []byte(`{"code":"INSUFFICIENT_ROLE"}`),
			).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.Equal(t, int64(7), event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty optional fields are stored as NULL", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		event := &Event{
			Timestamp: time.Now().UTC(),
			EventType: EventCachePurged,
			Status:    EventStatusSuccess,
		}

		mock.ExpectQuery("INSERT INTO authz_audit_events").
			WithArgs(
				sqlmock.AnyArg(), "authz.cache_purged", "success",
				nil, nil,
				nil, nil, nil, nil, nil,
				nil, nil,
			).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		mock.ExpectQuery("INSERT INTO authz_audit_events").WillReturnError(errors.New("connection reset"))

		err := logger.Log(context.Background(), &Event{Timestamp: time.Now(), EventType: EventTokenOnly, Status: EventStatusSuccess})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
	})
}

func TestDBLogger_Search(t *testing.T) {
	t.Run("filters and scans", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		ts := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows(searchColumns).
			AddRow(int64(2), ts, "authz.access_denied", "denied",
				int64(20), "SUPERVISOR_CAMPO",
				"req-2", "GET", "/api/v1/authz/catalog", int64(403), "10.0.0.1",
				"INSUFFICIENT_ROLE: requires role ADMIN_AGROMANO", []byte(`{"code":"INSUFFICIENT_ROLE"}`)).
			AddRow(int64(1), ts.Add(-time.Minute), "authz.token_only", "success",
				nil, nil,
				nil, "GET", "/api/v1/me/authorization", nil, nil,
				nil, nil)

		accountID := int64(20)
		mock.ExpectQuery(`SELECT .* FROM authz_audit_events WHERE 1=1 AND account_id = \$1 AND event_type = ANY\(\$2\) ORDER BY timestamp DESC, id DESC LIMIT \$3`).
			WithArgs(int64(20), sqlmock.AnyArg(), int64(50)).
			WillReturnRows(rows)

		events, err := logger.Search(context.Background(), SearchFilter{
			AccountID:  &accountID,
			EventTypes: []EventType{EventAccessDenied, EventTokenOnly},
			Limit:      50,
		})
		require.NoError(t, err)
		require.Len(t, events, 2)

		denied := events[0]
		assert.Equal(t, int64(2), denied.ID)
		assert.Equal(t, EventAccessDenied, denied.EventType)
		assert.Equal(t, EventStatusDenied, denied.Status)
		require.NotNil(t, denied.AccountID)
		assert.Equal(t, int64(20), *denied.AccountID)
		assert.Equal(t, 403, denied.StatusCode)
		assert.Equal(t, "INSUFFICIENT_ROLE", denied.Metadata["code"])

		tokenOnly := events[1]
		assert.Nil(t, tokenOnly.AccountID)
		assert.Empty(t, tokenOnly.RoleCode)
		assert.Zero(t, tokenOnly.StatusCode)
		assert.Nil(t, tokenOnly.Metadata)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("default and capped limits", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		mock.ExpectQuery("FROM authz_audit_events").
			WithArgs(int64(DefaultSearchLimit)).
			WillReturnRows(sqlmock.NewRows(searchColumns))
		mock.ExpectQuery("FROM authz_audit_events").
			WithArgs(int64(MaxSearchLimit), int64(10)).
			WillReturnRows(sqlmock.NewRows(searchColumns))

		events, err := logger.Search(context.Background(), SearchFilter{})
		require.NoError(t, err)
		assert.Empty(t, events)

		_, err = logger.Search(context.Background(), SearchFilter{Limit: 5000, Offset: 10})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("time range and status", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		end := start.Add(24 * time.Hour)
		status := EventStatusDenied

		mock.ExpectQuery(`timestamp >= \$1 AND timestamp <= \$2 AND status = \$3`).
			WithArgs(start, end, "denied", int64(DefaultSearchLimit)).
			WillReturnRows(sqlmock.NewRows(searchColumns))

		_, err := logger.Search(context.Background(), SearchFilter{StartTime: &start, EndTime: &end, Status: &status})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		mock.ExpectQuery("FROM authz_audit_events").WillReturnError(errors.New("relation does not exist"))

		_, err := logger.Search(context.Background(), SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to search audit events")
	})

	t.Run("bad metadata", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db}

		mock.ExpectQuery("FROM authz_audit_events").
			WillReturnRows(sqlmock.NewRows(searchColumns).
				AddRow(int64(1), time.Now(), "authz.cache_purged", "success",
					nil, nil, nil, nil, nil, nil, nil, nil, []byte(`{not json`)))

		_, err := logger.Search(context.Background(), SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal metadata")
	})
}
