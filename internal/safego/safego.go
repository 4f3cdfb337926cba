// Package safego runs named background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on its own goroutine under the given name. A panic in fn is
// logged with the name and stack and does not take the process down. The
// returned channel is closed once fn has finished, recovered or not.
func Go(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
	return done
}
