// File: eventloop/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package eventloop

// State is the lifecycle phase of a loop. Transitions only move forward.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateShutdown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateShutdown:
		return "shutdown"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
