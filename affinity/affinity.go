// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU on supported
// platforms. The caller must hold runtime.LockOSThread for the pin to stick
// to the goroutine. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return ErrInvalidCPU
	}
	return setAffinityPlatform(cpuID)
}

// CPUFor maps a loop index onto the list of allowed CPUs, round robin. An
// empty list yields -1 (no pinning).
func CPUFor(index int, cpus []int) int {
	if len(cpus) == 0 || index < 0 {
		return -1
	}
	return cpus[index%len(cpus)]
}

// NumCPU returns the number of logical CPUs usable by the process.
func NumCPU() int { return runtime.NumCPU() }
