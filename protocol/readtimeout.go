// File: protocol/readtimeout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
)

// ReadTimeoutHandler fires api.ErrTimeout and closes the channel when
// nothing was read for the configured duration. One per channel.
type ReadTimeoutHandler struct {
	timeout time.Duration
	timer   api.Timer
	closed  bool
}

func NewReadTimeoutHandler(timeout time.Duration) *ReadTimeoutHandler {
	return &ReadTimeoutHandler{timeout: timeout}
}

func (h *ReadTimeoutHandler) HandlerAdded(ctx *channel.HandlerContext) {
	if ctx.Channel().IsActive() {
		h.arm(ctx)
	}
}

func (h *ReadTimeoutHandler) HandlerRemoved(*channel.HandlerContext) { h.disarm() }

func (h *ReadTimeoutHandler) ChannelActive(ctx *channel.HandlerContext) {
	h.arm(ctx)
	ctx.FireChannelActive()
}

func (h *ReadTimeoutHandler) ChannelInactive(ctx *channel.HandlerContext) {
	h.disarm()
	ctx.FireChannelInactive()
}

func (h *ReadTimeoutHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	h.arm(ctx)
	ctx.FireChannelRead(msg)
}

func (h *ReadTimeoutHandler) arm(ctx *channel.HandlerContext) {
	h.disarm()
	if h.timeout <= 0 || h.closed {
		return
	}
	t, err := ctx.EventLoop().Schedule(h.timeout, func() { h.expire(ctx) })
	if err != nil {
		ctx.Logger().Debug("read timeout not armed", zap.Error(err))
		return
	}
	h.timer = t
}

func (h *ReadTimeoutHandler) disarm() {
	if h.timer != nil {
		h.timer.Cancel()
		h.timer = nil
	}
}

func (h *ReadTimeoutHandler) expire(ctx *channel.HandlerContext) {
	h.timer = nil
	if h.closed || !ctx.Channel().IsOpen() {
		return
	}
	h.closed = true
	ctx.FireExceptionCaught(api.NewError(api.ErrCodeTimeout, "read").WithContext("after", h.timeout.String()))
	ctx.Close()
}

func typeOf(v any) string { return fmt.Sprintf("%T", v) }
