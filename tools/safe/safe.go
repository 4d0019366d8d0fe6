package safe

import (
	"runtime/debug"

	"CampusChat/logger"
)

// Go runs fn on a new goroutine and turns a panic into an error log instead
// of a process crash. Used for every long-lived loop (subscriber, workers,
// write pumps).
func Go(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover is the shared deferred handler for loops that manage their own
// goroutines.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Errorf("[panic] %s: %v\n%s", name, r, debug.Stack())
	}
}
