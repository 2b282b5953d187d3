// File: protocol/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"net"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
)

// LoggingHandler logs every event passing through it and forwards it
// unchanged. Safe to share between channels.
type LoggingHandler struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLoggingHandler logs to logger at level. A nil logger uses the
// channel's logger.
func NewLoggingHandler(logger *zap.Logger, level zapcore.Level) *LoggingHandler {
	return &LoggingHandler{logger: logger, level: level}
}

func (h *LoggingHandler) log(ctx *channel.HandlerContext, event string, fields ...zap.Field) {
	l := ctx.Logger()
	if h.logger != nil {
		l = h.logger
		fields = append(fields, zap.String("channel", ctx.Channel().ID().Short()))
	}
	if ce := l.Check(h.level, event); ce != nil {
		ce.Write(fields...)
	}
}

func describe(msg any) zap.Field {
	if b, ok := msg.(api.Buffer); ok {
		return zap.Int("bytes", b.ReadableBytes())
	}
	if b, ok := msg.([]byte); ok {
		return zap.Int("bytes", len(b))
	}
	return zap.String("type", typeOf(msg))
}

func (h *LoggingHandler) ChannelRegistered(ctx *channel.HandlerContext) {
	h.log(ctx, "REGISTERED")
	ctx.FireChannelRegistered()
}

func (h *LoggingHandler) ChannelUnregistered(ctx *channel.HandlerContext) {
	h.log(ctx, "UNREGISTERED")
	ctx.FireChannelUnregistered()
}

func (h *LoggingHandler) ChannelActive(ctx *channel.HandlerContext) {
	h.log(ctx, "ACTIVE", zap.Stringer("remote", addrOrNone{ctx.Channel().RemoteAddr()}))
	ctx.FireChannelActive()
}

func (h *LoggingHandler) ChannelInactive(ctx *channel.HandlerContext) {
	h.log(ctx, "INACTIVE")
	ctx.FireChannelInactive()
}

func (h *LoggingHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	h.log(ctx, "READ", describe(msg))
	ctx.FireChannelRead(msg)
}

func (h *LoggingHandler) ChannelReadComplete(ctx *channel.HandlerContext) {
	h.log(ctx, "READ COMPLETE")
	ctx.FireChannelReadComplete()
}

func (h *LoggingHandler) UserEventTriggered(ctx *channel.HandlerContext, evt any) {
	h.log(ctx, "USER EVENT", zap.String("type", typeOf(evt)))
	ctx.FireUserEventTriggered(evt)
}

func (h *LoggingHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	h.log(ctx, "EXCEPTION", zap.Error(err))
	ctx.FireExceptionCaught(err)
}

func (h *LoggingHandler) Bind(ctx *channel.HandlerContext, local net.Addr, p *channel.Promise) {
	h.log(ctx, "BIND", zap.Stringer("local", addrOrNone{local}))
	ctx.BindPromise(local, p)
}

func (h *LoggingHandler) Connect(ctx *channel.HandlerContext, remote net.Addr, p *channel.Promise) {
	h.log(ctx, "CONNECT", zap.Stringer("remote", addrOrNone{remote}))
	ctx.ConnectPromise(remote, p)
}

func (h *LoggingHandler) Write(ctx *channel.HandlerContext, msg any, p *channel.Promise) {
	h.log(ctx, "WRITE", describe(msg))
	ctx.WritePromise(msg, p)
}

func (h *LoggingHandler) Flush(ctx *channel.HandlerContext) {
	h.log(ctx, "FLUSH")
	ctx.Flush()
}

func (h *LoggingHandler) Close(ctx *channel.HandlerContext, p *channel.Promise) {
	h.log(ctx, "CLOSE")
	ctx.ClosePromise(p)
}

type addrOrNone struct{ a net.Addr }

func (a addrOrNone) String() string {
	if a.a == nil {
		return "none"
	}
	return a.a.String()
}
