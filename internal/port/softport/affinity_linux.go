//go:build linux

package softport

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func init() {
	affinityFunc = pinToCPUs
}

// pinToCPUs locks the calling goroutine to its current OS thread, then
// restricts that thread's scheduling to cpus (Config.CPUAffinity).
func pinToCPUs(cpus []int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
