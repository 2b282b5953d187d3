// File: channel/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"io"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/reactor"
)

// EventLoop is the reactor a channel is pinned to for its whole life.
// *eventloop.Loop implements it.
type EventLoop interface {
	api.EventExecutor

	// RegisterFD, ModifyFD and UnregisterFD must be called on the loop.
	RegisterFD(fd int, interest reactor.Events, h reactor.Handler) error
	ModifyFD(fd int, interest reactor.Events) error
	UnregisterFD(fd int) error

	Allocator() api.Allocator

	// Track registers c for closure at loop shutdown.
	Track(c io.Closer) (untrack func(), err error)

	Logger() *zap.Logger
	Metrics() *control.LoopMetrics
	Index() int
}

