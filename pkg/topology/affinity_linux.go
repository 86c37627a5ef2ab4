//go:build linux
// +build linux

package topology

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AffinityCPUs returns the CPUs the current process may run on.
func AffinityCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("reading cpu affinity: %w", err)
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; cpu < len(set)*64; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
