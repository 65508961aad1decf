//go:build linux

package resources

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// osAffinity reads the scheduler affinity of the current process, which
// honours cpusets and cgroup limits.
func osAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	n := set.Count()
	ids := make([]int, 0, n)
	for cpu := 0; len(ids) < n; cpu++ {
		if set.IsSet(cpu) {
			ids = append(ids, cpu)
		}
	}
	return ids, nil
}
