// Package async provides panic-safe goroutine helpers.
package async

import (
	"runtime/debug"

	"squad/internal/shared/logging"
)

// PanicLogger receives formatted panic reports.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn on a new goroutine and recovers panics, logging them with the
// given name so a crashing background worker never takes the process down.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs a recovered panic with its stack. Intended for use in defer.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = logging.NewComponentLogger("async")
		}
		logger.Error("goroutine panic [%s]: %v\n%s", name, r, debug.Stack())
	}
}
