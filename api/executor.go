// Package api
// Author: momentics
//
// Executor contract for single-threaded event loops.

package api

import "time"

// EventExecutor runs tasks on one goroutine.
type EventExecutor interface {
	// Execute schedules task for execution. Safe from any goroutine.
	Execute(task func()) error

	// InEventLoop reports whether the caller runs on the executor goroutine.
	InEventLoop() bool

	// Schedule runs task after delay on the executor goroutine.
	Schedule(delay time.Duration, task func()) (Timer, error)
}

// Timer is a handle to a scheduled task.
type Timer interface {
	// Cancel prevents the task from running. Returns false if it already ran
	// or was already cancelled.
	Cancel() bool
}
