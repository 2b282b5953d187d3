//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrInvalidCPU is returned for CPU ids outside the kernel cpu set.
var ErrInvalidCPU = errors.New("affinity: invalid cpu id")

// setAffinityPlatform sets the calling thread's affinity to cpuID.
// sched_setaffinity with pid 0 targets the calling thread.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	if cpuID >= len(set)*64 {
		return ErrInvalidCPU
	}
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

// Current returns the CPUs the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	var out []int
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			out = append(out, i)
		}
	}
	return out, nil
}
