// File: channel/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

// State is the lifecycle phase of a channel. Transitions only move forward.
type State int32

const (
	StateUnregistered State = iota
	StateRegistered
	StateActive
	StateInactive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
