// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe reflector for internal inspection.

package control

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

var _ api.Debug = (*DebugProbes)(nil)

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook and returns a function that
// removes it. Registering an existing name replaces the previous probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) (unregister func()) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
	return func() {
		dp.mu.Lock()
		delete(dp.probes, name)
		dp.mu.Unlock()
	}
}

// DumpState returns output of all probes. A panicking probe reports its
// panic value instead of taking the caller down.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		fns[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = safeProbe(fn)
	}
	return out
}

func safeProbe(fn func() any) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe panic: %v", r)
		}
	}()
	return fn()
}
