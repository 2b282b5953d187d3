// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - platform-neutral helpers.

package tcp

import (
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/momentics/hioload-nio/api"
)

var (
	// ErrWouldBlock reports that a non-blocking call has nothing to do now.
	ErrWouldBlock = errors.New("tcp: operation would block")

	// ErrTransient reports an accept failure the acceptor should skip.
	ErrTransient = errors.New("tcp: transient accept error")
)

// ResolveAddr resolves host and port into a TCP address. An empty host binds
// all interfaces.
func ResolveAddr(host string, port int) (*net.TCPAddr, error) {
	if port < 0 || port > 65535 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "resolve").WithContext("port", port)
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, api.Wrap(api.ErrInvalidArgument, "resolve", err)
	}
	return addr, nil
}

// FDReader adapts a non-blocking descriptor to io.Reader for buffer fills.
type FDReader int

func (r FDReader) Read(p []byte) (int, error) { return Read(int(r), p) }

var _ io.Reader = FDReader(0)
