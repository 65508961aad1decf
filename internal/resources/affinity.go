package resources

import (
	"fmt"
	"math/big"
	"os"
	"strings"
)

// SchedulerMaskVar names the environment variable through which the batch
// scheduler publishes the CPUs bound to the job.
const SchedulerMaskVar = "SLURM_CPU_BIND_LIST"

// ParseCPUMask turns a hexadecimal CPU mask into the ids of its set bits,
// ascending. A "0x" prefix is optional. A comma-separated list of masks (one
// per task on the node) yields the union of their bits.
func ParseCPUMask(mask string) ([]int, error) {
	union := new(big.Int)
	for _, part := range strings.Split(mask, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(strings.TrimPrefix(part, "0x"), "0X")
		if part == "" {
			return nil, fmt.Errorf("invalid CPU mask %q: empty entry", mask)
		}
		bits, ok := new(big.Int).SetString(part, 16)
		if !ok {
			return nil, fmt.Errorf("invalid CPU mask %q: %q is not hexadecimal", mask, part)
		}
		union.Or(union, bits)
	}

	var ids []int
	for i := 0; i < union.BitLen(); i++ {
		if union.Bit(i) == 1 {
			ids = append(ids, i)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("CPU mask %q has no bits set", mask)
	}
	return ids, nil
}

// DetectAffinity returns an AffinityFunc that prefers the scheduler mask
// found through lookupEnv and falls back to the operating system.
func DetectAffinity(lookupEnv func(string) (string, bool)) AffinityFunc {
	return func() ([]int, error) {
		if mask, ok := lookupEnv(SchedulerMaskVar); ok && mask != "" {
			ids, err := ParseCPUMask(mask)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", SchedulerMaskVar, err)
			}
			return ids, nil
		}
		return osAffinity()
	}
}

// AvailableCPUs detects the affinity of the current process.
var AvailableCPUs = DetectAffinity(os.LookupEnv)

// CPUCount adapts an AffinityFunc to a plain count.
func CPUCount(affinity AffinityFunc) func() (int, error) {
	return func() (int, error) {
		ids, err := affinity()
		if err != nil {
			return 0, err
		}
		return len(ids), nil
	}
}
