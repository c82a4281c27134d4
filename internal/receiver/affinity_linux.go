//go:build linux

package receiver

import (
	"golang.org/x/sys/unix"

	"github.com/meridian-sensing/framelink/internal/monitoring"
)

// applyAffinity pins the calling thread to the given CPU cores. The caller
// must have locked the OS thread first. An empty set is a no-op.
func applyAffinity(cores []int) {
	if len(cores) == 0 {
		return
	}
	var set unix.CPUSet
	for _, core := range cores {
		set.Set(core)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		monitoring.Logf("warning: failed to set receive thread affinity to %v: %v", cores, err)
	}
}
