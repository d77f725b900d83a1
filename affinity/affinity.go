// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for reactor goroutines. Pin locks the calling goroutine to its
// OS thread and binds that thread to one CPU.

package affinity

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned where thread affinity cannot be set.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pin binds the calling goroutine's thread to cpu. The returned release
// restores the previous CPU set and unlocks the thread; call it on the same
// goroutine. On error the goroutine is left unlocked.
func Pin(cpu int) (release func(), err error) {
	runtime.LockOSThread()
	restore, err := setAffinity(cpu)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, nil
}

// CPUFor spreads worker indexes over the CPUs usable by the process.
func CPUFor(worker int) int {
	cpus := allowedCPUs()
	if len(cpus) == 0 {
		return worker % runtime.NumCPU()
	}
	return cpus[worker%len(cpus)]
}
