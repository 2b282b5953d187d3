// File: protocol/received.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
)

// ReceivedDataHandler copies every received byte to a writer and releases
// the buffer. Writes to the writer are serialized across channels.
type ReceivedDataHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func NewReceivedDataHandler(w io.Writer) *ReceivedDataHandler {
	return &ReceivedDataHandler{w: w}
}

func (h *ReceivedDataHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	defer api.SafeRelease(msg)
	b, ok := msg.(api.Buffer)
	if !ok {
		return
	}
	h.mu.Lock()
	_, err := h.w.Write(b.Bytes())
	h.mu.Unlock()
	if err != nil {
		ctx.Logger().Debug("received data not written", zap.Error(err))
	}
}

func (h *ReceivedDataHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.Logger().Warn("closing on error", zap.Error(err))
	ctx.Close()
}
