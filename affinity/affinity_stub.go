//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Returns error to indicate unavailability.

package affinity

import "errors"

// ErrInvalidCPU is returned for negative CPU ids.
var ErrInvalidCPU = errors.New("affinity: invalid cpu id")

// setAffinityPlatform is a stub for platforms where CPU affinity is not supported.
func setAffinityPlatform(cpuID int) error {
	return errors.New("affinity: not supported on this platform")
}

// Current is not supported on this platform.
func Current() ([]int, error) {
	return nil, errors.New("affinity: not supported on this platform")
}
