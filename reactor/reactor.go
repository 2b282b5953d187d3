// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import (
	"errors"
	"time"
)

// Events is a readiness bit set.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether every bit of mask is set.
func (e Events) Has(mask Events) bool { return e&mask == mask }

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	for _, n := range []struct {
		bit  Events
		name string
	}{{EventRead, "read"}, {EventWrite, "write"}, {EventError, "error"}, {EventHangup, "hangup"}} {
		if e&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// Handler receives the readiness observed for one descriptor.
type Handler func(ev Events)

// ErrClosed is returned by operations on a closed poller.
var ErrClosed = errors.New("reactor: poller closed")

// Poller multiplexes readiness of many descriptors. Add, Modify, Remove and
// Poll must be called from the owning loop goroutine; Wakeup is safe from
// any goroutine.
type Poller interface {
	// Add registers fd with the given interest set. Readiness is level
	// triggered: a handler keeps firing while the condition holds.
	Add(fd int, interest Events, h Handler) error

	// Modify replaces the interest set of a registered fd.
	Modify(fd int, interest Events) error

	// Remove deregisters fd. Removing an unknown fd is a no-op.
	Remove(fd int) error

	// Poll waits up to timeout (negative blocks) and dispatches handlers
	// inline. Returns the number of descriptor events dispatched.
	Poll(timeout time.Duration) (int, error)

	// Wakeup interrupts a blocked Poll.
	Wakeup() error

	// Len returns the number of registered descriptors.
	Len() int

	Close() error
}

// Options configures a Poller.
type Options struct {
	// MaxEvents bounds the events fetched per Poll. Defaults to 128.
	MaxEvents int

	// OnPanic is called when a handler panics. The poller keeps running.
	OnPanic func(fd int, v any)
}

const defaultMaxEvents = 128
