// File: protocol/discard.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
)

// DiscardHandler drops everything it reads. Safe to share between channels.
type DiscardHandler struct {
	bytes atomic.Int64
}

func NewDiscardHandler() *DiscardHandler { return &DiscardHandler{} }

// Received returns the number of bytes discarded so far.
func (d *DiscardHandler) Received() int64 { return d.bytes.Load() }

func (d *DiscardHandler) ChannelRead(_ *channel.HandlerContext, msg any) {
	if b, ok := msg.(api.Buffer); ok {
		d.bytes.Add(int64(b.ReadableBytes()))
	}
	api.SafeRelease(msg)
}

func (d *DiscardHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.Logger().Warn("discard: closing on error", zap.Error(err))
	ctx.Close()
}
