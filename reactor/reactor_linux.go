//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller factory.

package reactor

// New constructs the platform Poller.
func New(opts Options) (Poller, error) {
	r, err := newEpollReactor(opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}
