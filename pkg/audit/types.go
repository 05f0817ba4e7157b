package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// EventFallbackApplied marks a request served from the static catalog
	EventFallbackApplied EventType = "authz.fallback_applied"

	// EventTokenOnly marks a request authorized from token claims with no local account
	EventTokenOnly EventType = "authz.token_only"

	// EventAccessDenied marks a 401/403 returned by a guard
	EventAccessDenied EventType = "authz.access_denied"

	// EventCachePurged marks a manual purge of the role permission cache
	EventCachePurged EventType = "authz.cache_purged"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	AccountID *int64 `json:"account_id,omitempty"`
	RoleCode  string `json:"role_code,omitempty"`

	// Request context
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	AccountID  *int64
	EventTypes []EventType
	Status     *EventStatus

	Limit  int
	Offset int
}

// DefaultSearchLimit caps searches that do not set a limit
const DefaultSearchLimit = 100

// MaxSearchLimit is the largest page a search returns
const MaxSearchLimit = 1000
