// File: channel/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler capabilities. A handler is any value; the pipeline looks at which
// of these interfaces it implements and forwards every other event past it.

package channel

import (
	"net"

	"go.uber.org/zap"
)

type ChannelRegisteredHandler interface {
	ChannelRegistered(ctx *HandlerContext)
}

type ChannelUnregisteredHandler interface {
	ChannelUnregistered(ctx *HandlerContext)
}

type ChannelActiveHandler interface {
	ChannelActive(ctx *HandlerContext)
}

type ChannelInactiveHandler interface {
	ChannelInactive(ctx *HandlerContext)
}

// ChannelReadHandler receives inbound messages. The handler owns msg and
// must release it or pass it on.
type ChannelReadHandler interface {
	ChannelRead(ctx *HandlerContext, msg any)
}

type ChannelReadCompleteHandler interface {
	ChannelReadComplete(ctx *HandlerContext)
}

type UserEventHandler interface {
	UserEventTriggered(ctx *HandlerContext, evt any)
}

type ExceptionHandler interface {
	ExceptionCaught(ctx *HandlerContext, err error)
}

type BindHandler interface {
	Bind(ctx *HandlerContext, local net.Addr, p *Promise)
}

type ConnectHandler interface {
	Connect(ctx *HandlerContext, remote net.Addr, p *Promise)
}

// WriteHandler intercepts outbound messages. It takes ownership of msg.
type WriteHandler interface {
	Write(ctx *HandlerContext, msg any, p *Promise)
}

type FlushHandler interface {
	Flush(ctx *HandlerContext)
}

type CloseHandler interface {
	Close(ctx *HandlerContext, p *Promise)
}

// HandlerAddedHandler is called once the handler is in a registered pipeline.
type HandlerAddedHandler interface {
	HandlerAdded(ctx *HandlerContext)
}

type HandlerRemovedHandler interface {
	HandlerRemoved(ctx *HandlerContext)
}

type mask uint32

const (
	maskRegistered mask = 1 << iota
	maskUnregistered
	maskActive
	maskInactive
	maskRead
	maskReadComplete
	maskUserEvent
	maskException
	maskBind
	maskConnect
	maskWrite
	maskFlush
	maskClose
)

func maskOf(h any) mask {
	var m mask
	if _, ok := h.(ChannelRegisteredHandler); ok {
		m |= maskRegistered
	}
	if _, ok := h.(ChannelUnregisteredHandler); ok {
		m |= maskUnregistered
	}
	if _, ok := h.(ChannelActiveHandler); ok {
		m |= maskActive
	}
	if _, ok := h.(ChannelInactiveHandler); ok {
		m |= maskInactive
	}
	if _, ok := h.(ChannelReadHandler); ok {
		m |= maskRead
	}
	if _, ok := h.(ChannelReadCompleteHandler); ok {
		m |= maskReadComplete
	}
	if _, ok := h.(UserEventHandler); ok {
		m |= maskUserEvent
	}
	if _, ok := h.(ExceptionHandler); ok {
		m |= maskException
	}
	if _, ok := h.(BindHandler); ok {
		m |= maskBind
	}
	if _, ok := h.(ConnectHandler); ok {
		m |= maskConnect
	}
	if _, ok := h.(WriteHandler); ok {
		m |= maskWrite
	}
	if _, ok := h.(FlushHandler); ok {
		m |= maskFlush
	}
	if _, ok := h.(CloseHandler); ok {
		m |= maskClose
	}
	return m
}

// ChannelInputShutdownEvent is fired as a user event when the peer closed
// its write side and AllowHalfClosure is set.
type ChannelInputShutdownEvent struct{}

// Initializer returns a handler that runs fn once when it becomes part of a
// registered pipeline and then removes itself. An error from fn closes the
// channel.
func Initializer(fn func(ch Channel) error) any {
	return &initializer{fn: fn}
}

type initializer struct {
	fn func(ch Channel) error
}

func (i *initializer) HandlerAdded(ctx *HandlerContext) {
	ch := ctx.Channel()
	if err := i.fn(ch); err != nil {
		ctx.Logger().Warn("channel initializer failed", zap.Error(err))
		ch.Close()
	}
	if !ctx.IsRemoved() {
		_ = ctx.Pipeline().removeContext(ctx)
	}
}

// ExceptionCaught closes the channel if fn panicked during HandlerAdded.
func (i *initializer) ExceptionCaught(ctx *HandlerContext, err error) {
	ctx.Logger().Warn("channel initializer failed", zap.Error(err))
	ctx.Channel().Close()
}
