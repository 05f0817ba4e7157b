package audit

import (
	"context"
	"errors"
)

// MultiLogger logs to multiple audit loggers. Every destination is attempted
// even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Search implements Searcher using the first destination that supports it
func (m *MultiLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	for _, logger := range m.loggers {
		if s, ok := logger.(Searcher); ok {
			return s.Search(ctx, filter)
		}
	}
	return nil, ErrSearchUnsupported
}

// Close implements Logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrSearchUnsupported means no configured destination can be queried
var ErrSearchUnsupported = errors.New("audit: no searchable destination configured")
