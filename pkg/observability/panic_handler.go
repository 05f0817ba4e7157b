package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. Call it deferred
// at the top of background goroutines such as scheduled jobs:
//
//	defer observability.RecoverPanic(logger, "cache purge")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("panic recovered")
	}
}
