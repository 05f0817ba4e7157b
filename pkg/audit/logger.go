package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/contextkeys"
	"github.com/agromano/backoffice/pkg/middleware"
	"github.com/agromano/backoffice/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records one event. Implementations may assign event.ID.
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the destination
	Close() error
}

// Searcher reads back recorded events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// NewEvent creates an event with the request and authorization context filled in.
// r may be nil for events raised outside a request.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if authzCtx, ok := authz.FromContext(ctx); ok {
		if id, ok := authzCtx.AccountID(); ok {
			event.AccountID = &id
		}
		event.RoleCode, _ = authzCtx.RoleCode()
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = middleware.ClientIP(r)
	}

	return event
}

// NopLogger discards every event
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) Close() error                      { return nil }

// StructuredLogger writes events through the service logger. It is the default
// destination when neither a file nor the database is configured.
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates a StructuredLogger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// Log implements Logger
func (l *StructuredLogger) Log(_ context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"request_id": event.RequestID,
		"path":       event.Path,
	}
	if event.AccountID != nil {
		fields["account_id"] = *event.AccountID
	}
	if event.RoleCode != "" {
		fields["role_code"] = event.RoleCode
	}
	if event.StatusCode != 0 {
		fields["status_code"] = event.StatusCode
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	message := event.Message
	if message == "" {
		message = string(event.EventType)
	}
	l.logger.WithFields(fields).Info(message)
	return nil
}

// Close implements Logger
func (l *StructuredLogger) Close() error {
	return nil
}
