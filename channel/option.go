// File: channel/option.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-nio/api"
)

// Option names a channel configuration setting.
type Option string

const (
	SoBacklog          Option = "SO_BACKLOG"
	SoKeepAlive        Option = "SO_KEEPALIVE"
	TCPNoDelay         Option = "TCP_NODELAY"
	SoReuseAddr        Option = "SO_REUSEADDR"
	SoRcvBuf           Option = "SO_RCVBUF"
	SoSndBuf           Option = "SO_SNDBUF"
	SoLinger           Option = "SO_LINGER"
	ConnectTimeout     Option = "CONNECT_TIMEOUT"
	AllowHalfClosure   Option = "ALLOW_HALF_CLOSURE"
	MaxMessagesPerRead Option = "MAX_MESSAGES_PER_READ"
	ReadBufferSize     Option = "READ_BUFFER_SIZE"
	MaxBufferCapacity  Option = "MAX_BUFFER_CAPACITY"
	WriteSpinCount     Option = "WRITE_SPIN_COUNT"
)

type kind int

const (
	kindBool kind = iota
	kindPositive
	kindDuration
)

var optionKinds = map[Option]kind{
	SoBacklog:          kindPositive,
	SoKeepAlive:        kindBool,
	TCPNoDelay:         kindBool,
	SoReuseAddr:        kindBool,
	SoRcvBuf:           kindPositive,
	SoSndBuf:           kindPositive,
	SoLinger:           kindDuration,
	ConnectTimeout:     kindDuration,
	AllowHalfClosure:   kindBool,
	MaxMessagesPerRead: kindPositive,
	ReadBufferSize:     kindPositive,
	MaxBufferCapacity:  kindPositive,
	WriteSpinCount:     kindPositive,
}

var optionDefaults = map[Option]any{
	SoBacklog:          128,
	ConnectTimeout:     30 * time.Second,
	MaxMessagesPerRead: 16,
	ReadBufferSize:     2048,
	MaxBufferCapacity:  1 << 20,
	WriteSpinCount:     16,
}

// Config holds the options of one channel. Safe for concurrent use.
type Config struct {
	mu     sync.RWMutex
	values map[Option]any
}

// NewConfig returns a config holding only defaults.
func NewConfig() *Config {
	return &Config{values: make(map[Option]any)}
}

// Set validates and stores v for opt. Integers must be int and positive,
// durations time.Duration and non-negative.
func (c *Config) Set(opt Option, v any) error {
	k, ok := optionKinds[opt]
	if !ok {
		return api.NewError(api.ErrCodeInvalidArgument, "unknown option").WithContext("option", string(opt))
	}
	if err := check(opt, k, v); err != nil {
		return err
	}
	c.mu.Lock()
	c.values[opt] = v
	c.mu.Unlock()
	return nil
}

func check(opt Option, k kind, v any) error {
	bad := func() error {
		return api.NewError(api.ErrCodeInvalidArgument, "option value").
			WithContext("option", string(opt)).WithContext("value", v)
	}
	switch k {
	case kindBool:
		if _, ok := v.(bool); !ok {
			return bad()
		}
	case kindPositive:
		n, ok := v.(int)
		if !ok || n <= 0 {
			return bad()
		}
	case kindDuration:
		d, ok := v.(time.Duration)
		if !ok || d < 0 {
			return bad()
		}
	}
	return nil
}

// Get returns the explicit or default value of opt.
func (c *Config) Get(opt Option) (any, bool) {
	c.mu.RLock()
	v, ok := c.values[opt]
	c.mu.RUnlock()
	if ok {
		return v, true
	}
	v, ok = optionDefaults[opt]
	return v, ok
}

// IsSet reports whether opt was set explicitly.
func (c *Config) IsSet(opt Option) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[opt]
	return ok
}

// Options lists explicitly set options in name order.
func (c *Config) Options() []Option {
	c.mu.RLock()
	out := make([]Option, 0, len(c.values))
	for o := range c.values {
		out = append(out, o)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetAll copies every explicit value of src into c.
func (c *Config) SetAll(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for o, v := range src.values {
		c.values[o] = v
	}
}

func (c *Config) Bool(opt Option) bool {
	v, _ := c.Get(opt)
	b, _ := v.(bool)
	return b
}

func (c *Config) Int(opt Option) int {
	v, _ := c.Get(opt)
	n, _ := v.(int)
	return n
}

func (c *Config) Duration(opt Option) time.Duration {
	v, _ := c.Get(opt)
	d, _ := v.(time.Duration)
	return d
}
