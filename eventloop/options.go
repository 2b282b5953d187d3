// File: eventloop/options.go
// Package eventloop defines functional options for loops and groups.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package eventloop

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/pool"
)

// Chooser picks the loop for the next registration.
type Chooser func(loops []*Loop) *Loop

// config is shared by a group and its loops.
type config struct {
	name      string
	logger    *zap.Logger
	metrics   *control.Metrics
	buffers   *pool.BufferPoolManager
	cpus      []int
	maxEvents int
	chooser   Chooser
}

func defaultConfig() *config {
	return &config{
		name:      "loop",
		logger:    zap.NewNop(),
		maxEvents: 128,
	}
}

// Option customizes loop and group construction.
type Option func(*config)

// WithLogger sets the parent logger. Each loop logs under "<name>-<index>".
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records loop and channel metrics on m.
func WithMetrics(m *control.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithBufferManager shares a partition manager between groups. Loop i
// allocates from partition i of the manager's name space.
func WithBufferManager(m *pool.BufferPoolManager) Option {
	return func(c *config) {
		c.buffers = m
	}
}

// WithCPUAffinity pins loop i to cpus[i % len(cpus)].
func WithCPUAffinity(cpus ...int) Option {
	return func(c *config) {
		c.cpus = append([]int(nil), cpus...)
	}
}

// WithMaxEvents bounds readiness events fetched per poll.
func WithMaxEvents(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}

// WithChooser overrides round-robin loop selection.
func WithChooser(ch Chooser) Option {
	return func(c *config) {
		c.chooser = ch
	}
}

// WithName sets the loop name prefix used in logs and metric labels.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// LeastLoaded selects the loop with the fewest registered channels, the
// lowest index winning ties.
func LeastLoaded(loops []*Loop) *Loop {
	var best *Loop
	for _, l := range loops {
		if best == nil || l.ChannelCount() < best.ChannelCount() {
			best = l
		}
	}
	return best
}
