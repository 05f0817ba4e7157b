package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/agromano/backoffice/pkg/audit"
	"github.com/agromano/backoffice/pkg/httputil"
	"github.com/agromano/backoffice/pkg/middleware"
	"github.com/agromano/backoffice/pkg/observability"
)

// AuditHandlers serves the authorization audit trail to administrators
type AuditHandlers struct {
	searcher audit.Searcher
	guards   *middleware.GuardMiddleware
	logger   *observability.Logger
}

// NewAuditHandlers creates a new AuditHandlers. A nil searcher answers 503.
func NewAuditHandlers(searcher audit.Searcher, guards *middleware.GuardMiddleware, logger *observability.Logger) *AuditHandlers {
	if guards == nil {
		guards = middleware.NewGuardMiddleware(nil)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuditHandlers{searcher: searcher, guards: guards, logger: logger}
}

// RegisterRoutes registers audit routes on an authenticated router
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	admin := h.guards.RequireRole(AdminRole)
	router.Handle("/authz/audit", admin(http.HandlerFunc(h.SearchEvents))).Methods("GET")
}

// AuditSearchResponse is the body of GET /authz/audit
type AuditSearchResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
}

// SearchEvents handles GET /authz/audit.
//
// Query parameters: account_id, event_type (comma separated), status, since and
// until (RFC 3339), limit, offset.
func (h *AuditHandlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		httputil.WriteServiceUnavailable(w, "audit search not configured")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if errors.Is(err, audit.ErrSearchUnsupported) {
		httputil.WriteServiceUnavailable(w, "audit search not configured")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("audit search failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "audit search failed")
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	httputil.WriteSuccess(w, AuditSearchResponse{Events: events, Count: len(events)})
}

func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	var filter audit.SearchFilter
	q := r.URL.Query()

	if q.Get("account_id") != "" {
		id, err := httputil.ParseQueryInt64(r, "account_id", 0)
		if err != nil {
			return filter, err
		}
		filter.AccountID = &id
	}

	for _, t := range strings.Split(q.Get("event_type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
		}
	}

	if s := q.Get("status"); s != "" {
		status := audit.EventStatus(s)
		filter.Status = &status
	}

	var err error
	if filter.StartTime, err = parseQueryTime(r, "since"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseQueryTime(r, "until"); err != nil {
		return filter, err
	}

	limit, err := httputil.ParseQueryInt64(r, "limit", audit.DefaultSearchLimit)
	if err != nil {
		return filter, err
	}
	offset, err := httputil.ParseQueryInt64(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	if limit < 0 || offset < 0 {
		return filter, errors.New("limit and offset must not be negative")
	}
	filter.Limit = int(limit)
	filter.Offset = int(offset)

	return filter, nil
}

func parseQueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp for query param %s: %s", key, raw)
	}
	return &ts, nil
}
