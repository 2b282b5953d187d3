// File: protocol/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/channel"
)

// EchoHandler writes every message back to its sender and flushes it
// right away. Safe to share between channels.
type EchoHandler struct{}

func NewEchoHandler() *EchoHandler { return &EchoHandler{} }

func (*EchoHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	ctx.WriteAndFlush(msg)
}

func (*EchoHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.Logger().Warn("echo: closing on error", zap.Error(err))
	ctx.Close()
}
