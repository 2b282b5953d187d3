// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the level-triggered readiness poller that drives each event loop: epoll plus an eventfd wakeup on Linux, a stub elsewhere.
package reactor
