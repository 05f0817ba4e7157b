package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/agromano/backoffice/pkg/authz"
	"github.com/agromano/backoffice/pkg/observability"
)

// maxCapturedBody bounds how much of a denial response is kept for the audit record
const maxCapturedBody = 4096

// Middleware records authorization-relevant outcomes of requests. Handler is
// mounted before authentication so it sees every 401/403; Capture is mounted
// after it and hands the resolved authorization context back to Handler.
type Middleware struct {
	logger Logger
	errors *observability.Logger
}

// NewMiddleware creates a new audit middleware. Audit write failures are reported
// to errLogger and never fail the request.
func NewMiddleware(logger Logger, errLogger *observability.Logger) *Middleware {
	if logger == nil {
		logger = NopLogger()
	}
	if errLogger == nil {
		errLogger = observability.NopLogger()
	}
	return &Middleware{logger: logger, errors: errLogger}
}

// responseWriter captures the status code and, for denials, the body
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	if isDenial(rw.statusCode) && rw.body.Len() < maxCapturedBody {
		rw.body.Write(b[:min(len(b), maxCapturedBody-rw.body.Len())])
	}
	return rw.ResponseWriter.Write(b)
}

func isDenial(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

type captureKey struct{}

// capture carries the authenticated request from Capture back out to Handler
type capture struct {
	request *http.Request
}

// Handler wraps an HTTP handler with audit logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		c := &capture{}

		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), captureKey{}, c)))

		// the authenticated request carries the resolved context, when there is one
		seen := r
		if c.request != nil {
			seen = c.request
		}

		ctx := seen.Context()
		for _, event := range m.events(seen, wrapped) {
			if err := m.logger.Log(ctx, event); err != nil {
				m.errors.WithError(err).WithField("event_type", string(event.EventType)).Warn("audit write failed")
			}
		}
	})
}

// Capture records the request as it looks after authentication. Without an
// enclosing Handler it is a pass-through.
func (m *Middleware) Capture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := r.Context().Value(captureKey{}).(*capture); ok {
			c.request = r
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) events(r *http.Request, rw *responseWriter) []*Event {
	ctx := r.Context()
	var events []*Event

	if authzCtx, ok := authz.FromContext(ctx); ok {
		provenance := authzCtx.Provenance()

		if provenance.FromFallback {
			event := NewEvent(ctx, r, EventFallbackApplied, EventStatusSuccess)
			event.StatusCode = rw.statusCode
			event.Message = "static catalog fallback applied"
			event.Metadata["permissions"] = authzCtx.EffectivePermissions().Len()
			events = append(events, event)
		}

		if _, resolved := authzCtx.AccountID(); !resolved && provenance.FromToken {
			event := NewEvent(ctx, r, EventTokenOnly, EventStatusSuccess)
			event.StatusCode = rw.statusCode
			event.Message = "authorized from token claims without a local account"
			events = append(events, event)
		}
	}

	if isDenial(rw.statusCode) {
		event := NewEvent(ctx, r, EventAccessDenied, EventStatusDenied)
		event.StatusCode = rw.statusCode
		event.Message = "access denied"

		var body struct {
			authz.Denial
			Error string `json:"error"`
		}
		if err := json.Unmarshal(rw.body.Bytes(), &body); err == nil && body.Code != "" {
			denial := body.Denial
			event.Message = denial.Error()
			if body.Error != "" {
				event.Metadata["reason"] = body.Error
			}
			event.Metadata["code"] = string(denial.Code)
			if len(denial.Missing) > 0 {
				event.Metadata["missing"] = denial.Missing
			}
			if denial.RequiredRole != "" {
				event.Metadata["required_role"] = denial.RequiredRole
			}
		}
		events = append(events, event)
	}

	return events
}
