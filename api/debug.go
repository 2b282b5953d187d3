// Package api
// Author: momentics
//
// Live debug support for production workloads.

package api

// Debug exposes named state probes.
type Debug interface {
	// DumpState emits a snapshot of all probes.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a probe and returns its remover.
	RegisterProbe(name string, fn func() any) (unregister func())
}
