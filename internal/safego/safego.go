// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine named for logging. If fn panics, the
// panic is recovered and logged rather than crashing the process. Every
// detached goroutine in the service goes through this: last-used timestamp
// writes, counter-window sweeps, periodic purge jobs. A panic in any of those
// must never take the request path down with it.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "goroutine", name, "panic", r)
			}
		}()
		fn()
	}()
}
