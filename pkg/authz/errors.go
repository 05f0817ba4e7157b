package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrUnauthenticated means no identity assertion reached the engine
	ErrUnauthenticated = errors.New("authz: no identity assertion")

	// ErrUnauthorized means the assertion matched no local account and carried no permissions
	ErrUnauthorized = errors.New("authz: identity has no local account and no permission claims")

	// ErrSchemaDrift marks a known, anticipated mismatch between the queries and the live schema.
	// The engine recovers from it; it is never returned to callers of Engine.Resolve.
	ErrSchemaDrift = errors.New("authz: schema drift")

	// ErrStoreUnavailable wraps any other persistence failure
	ErrStoreUnavailable = errors.New("authz: store unavailable")

	// ErrResolutionCancelled means the request context ended before resolution completed
	ErrResolutionCancelled = errors.New("authz: resolution cancelled")
)

// DenialCode identifies why a request was refused
type DenialCode string

const (
	DenialInsufficientPermissions DenialCode = "INSUFFICIENT_PERMISSIONS"
	DenialInsufficientRole        DenialCode = "INSUFFICIENT_ROLE"
	DenialUnauthorized            DenialCode = "UNAUTHORIZED"
)

// Denial is the structured reason returned with a 401/403 response
type Denial struct {
	Code         DenialCode `json:"code"`
	Missing      []string   `json:"missing,omitempty"`
	RequiredRole string     `json:"required_role,omitempty"`
}

func (d *Denial) Error() string {
	switch {
	case len(d.Missing) > 0:
		return fmt.Sprintf("%s: missing %s", d.Code, strings.Join(d.Missing, ", "))
	case d.RequiredRole != "":
		return fmt.Sprintf("%s: requires role %s", d.Code, d.RequiredRole)
	default:
		return string(d.Code)
	}
}

// Postgres SQLSTATE codes treated as schema drift
const (
	sqlStateUndefinedColumn = "42703"
	sqlStateUndefinedTable  = "42P01"
)

// driftMessages covers drivers that do not expose SQLSTATE codes
var driftMessages = []string{
	"no such column",
	"no such table",
}

// classifyStoreError maps a raw driver error onto the error taxonomy.
// Context errors are preserved so callers can fail closed on cancellation.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrResolutionCancelled, err)
	}
	if isSchemaDrift(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrSchemaDrift, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func isSchemaDrift(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == sqlStateUndefinedColumn || code == sqlStateUndefinedTable
	}
	msg := strings.ToLower(err.Error())
	for _, m := range driftMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
