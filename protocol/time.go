// File: protocol/time.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 868 time protocol: the server sends one 32-bit big-endian count of
// seconds since 1900-01-01 UTC and closes.

package protocol

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/future"
)

// EpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const EpochOffset = 2208988800

// EncodeTime converts t to RFC 868 seconds. The count wraps in 2036.
func EncodeTime(t time.Time) uint32 { return uint32(t.Unix() + EpochOffset) }

// DecodeTime converts RFC 868 seconds to a time.
func DecodeTime(v uint32) time.Time { return time.Unix(int64(v)-EpochOffset, 0) }

// TimeServerHandler answers every connection with the current time and
// closes it once the write completed. Safe to share between channels.
type TimeServerHandler struct {
	now func() time.Time
}

// NewTimeServerHandler uses now as its clock, time.Now when nil.
func NewTimeServerHandler(now func() time.Time) *TimeServerHandler {
	if now == nil {
		now = time.Now
	}
	return &TimeServerHandler{now: now}
}

func (h *TimeServerHandler) ChannelActive(ctx *channel.HandlerContext) {
	buf := ctx.Allocator().Buffer(4)
	if err := buf.WriteUint32(EncodeTime(h.now())); err != nil {
		buf.Release()
		ctx.FireExceptionCaught(err)
		return
	}
	ctx.WriteAndFlush(buf).AddListener(func(channel.Future) {
		ctx.Close()
	})
}

func (h *TimeServerHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.Logger().Warn("time server: closing on error", zap.Error(err))
	ctx.Close()
}

// TimeClientHandler collects the four time bytes, resolves Result and
// closes the channel. It keeps per-connection state; use one per channel.
type TimeClientHandler struct {
	acc    api.Buffer
	result *future.Promise[time.Time]
}

func NewTimeClientHandler() *TimeClientHandler {
	return &TimeClientHandler{result: future.New[time.Time](nil)}
}

// Result resolves with the server time, or fails with
// api.ErrProtocolViolation when the peer closed before sending four bytes.
func (h *TimeClientHandler) Result() future.Future[time.Time] { return h.result }

func (h *TimeClientHandler) HandlerAdded(ctx *channel.HandlerContext) {
	h.acc = ctx.Allocator().BufferMax(4, 64)
}

func (h *TimeClientHandler) HandlerRemoved(*channel.HandlerContext) {
	h.fail(api.NewError(api.ErrCodeProtocolViolation, "time client").WithContext("reason", "handler removed"))
	if h.acc != nil {
		h.acc.Release()
		h.acc = nil
	}
}

func (h *TimeClientHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	b, ok := msg.(api.Buffer)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	defer b.Release()
	if h.result.IsDone() {
		return
	}
	need := 4 - h.acc.ReadableBytes()
	if need > b.ReadableBytes() {
		need = b.ReadableBytes()
	}
	p, _ := b.ReadBytes(need)
	if err := h.acc.WriteBytes(p); err != nil {
		ctx.FireExceptionCaught(err)
		return
	}
	if h.acc.ReadableBytes() < 4 {
		return
	}
	v, err := h.acc.ReadUint32()
	if err != nil {
		ctx.FireExceptionCaught(err)
		return
	}
	h.result.TryComplete(DecodeTime(v))
	ctx.Close()
}

func (h *TimeClientHandler) ChannelInactive(ctx *channel.HandlerContext) {
	h.fail(api.NewError(api.ErrCodeProtocolViolation, "time client").
		WithContext("reason", "connection closed before 4 bytes"))
	ctx.FireChannelInactive()
}

func (h *TimeClientHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	h.fail(err)
	ctx.Logger().Warn("time client: closing on error", zap.Error(err))
	ctx.Close()
}

func (h *TimeClientHandler) fail(err error) {
	if !h.result.IsDone() {
		h.result.TryFail(err)
	}
}
