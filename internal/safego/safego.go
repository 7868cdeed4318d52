// Package safego runs the object log's background work (entry shipping, retention sweeps,
// API key last-use updates) so that a panic in one task is logged and counted instead of
// taking the server down.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/object-log/object-log/internal/telemetry"
)

// Task labels used by the callers in this module.
const (
	TaskShip           = "ship"
	TaskRetention      = "retention"
	TaskAPIKeyLastUsed = "apikey_last_used"
)

// Go runs fn in a new goroutine with the recovery of Run.
func Go(task string, fn func()) {
	go Run(task, fn)
}

// Run calls fn on the current goroutine. A panic is recovered, logged with the task label and
// stack, and counted in objectlog_background_panics_total. It reports whether fn returned
// normally.
func Run(task string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
			slog.Error("recovered panic in background task",
				"task", task, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
	return true
}
