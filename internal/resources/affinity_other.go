//go:build !linux

package resources

import "runtime"

func osAffinity() ([]int, error) {
	ids := make([]int, runtime.NumCPU())
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}
