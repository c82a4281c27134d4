//go:build !linux

package receiver

import "github.com/meridian-sensing/framelink/internal/monitoring"

// applyAffinity is a no-op off Linux; thread pinning is not supported there.
func applyAffinity(cores []int) {
	if len(cores) > 0 {
		monitoring.Logf("warning: receive thread affinity %v ignored on this platform", cores)
	}
}
