package resources

import (
	"fmt"
	"sort"

	"github.com/vk/testprojbuilds/internal/model"
)

// AffinityFunc returns the CPU ids the process may run on, in any order.
type AffinityFunc func() ([]int, error)

// Partition assigns build and test resource counts to every variant.
//
// Sequentially, every variant gets the whole of both pools. In parallel, each
// variant in turn gets its share of what is left: the remaining pool divided
// by the number of variants left, rounded up. Earlier variants therefore never
// get less than later ones, the whole pool is handed out, and as long as the
// pool holds at least one unit per variant nobody is left with zero.
func Partition(variants []*model.BuildVariant, totalBuild, totalTest int, parallel bool) error {
	if !parallel {
		for _, v := range variants {
			v.BuildResourceCount = totalBuild
			v.TestResourceCount = totalTest
		}
		return nil
	}

	n := len(variants)
	if totalTest < n {
		return &InsufficientResourcesError{Phase: model.PhaseTest, Available: totalTest, Variants: n}
	}
	// make -j0 means unlimited jobs, so every variant needs at least one.
	if totalBuild < n {
		return &InsufficientResourcesError{Phase: model.PhaseBuild, Available: totalBuild, Variants: n}
	}

	buildLeft, testLeft := totalBuild, totalTest
	for i, v := range variants {
		left := n - i
		v.BuildResourceCount = share(buildLeft, left)
		v.TestResourceCount = share(testLeft, left)
		buildLeft -= v.BuildResourceCount
		testLeft -= v.TestResourceCount
	}
	return nil
}

func share(pool, left int) int {
	return (pool + left - 1) / left
}

// Pool hands out concrete resource identifiers once counts are assigned.
type Pool struct {
	machine  *model.Machine
	variants []*model.BuildVariant
	parallel bool
	affinity AffinityFunc
}

// NewPool returns a pool over the variants in dispatch order. The order must
// be the one Partition was called with.
func NewPool(machine *model.Machine, variants []*model.BuildVariant, parallel bool, affinity AffinityFunc) *Pool {
	return &Pool{
		machine:  machine,
		variants: variants,
		parallel: parallel,
		affinity: affinity,
	}
}

// Offset returns where the variant's slice starts for the phase: the total
// count of every variant before it in parallel mode, 0 otherwise.
func (p *Pool) Offset(v *model.BuildVariant, phase model.Phase) (int, error) {
	if !p.parallel {
		return 0, nil
	}
	offset := 0
	for _, prev := range p.variants {
		if prev == v {
			return offset, nil
		}
		offset += prev.ResourceCount(phase)
	}
	return 0, fmt.Errorf("variant %s is not part of this run", v.ShortName)
}

// ResourcesFor returns the identifiers the variant may use for the phase.
// Accelerator machines expose slots 0..N-1 for the test phase; everything
// else is sliced from the sorted CPU affinity list.
func (p *Pool) ResourcesFor(v *model.BuildVariant, phase model.Phase) ([]int, error) {
	count := v.ResourceCount(phase)
	if count < 0 {
		return nil, fmt.Errorf("variant %s: %s resources not assigned", v.ShortName, phase)
	}

	ids, err := p.affinityFor(phase)
	if err != nil {
		return nil, err
	}

	offset, err := p.Offset(v, phase)
	if err != nil {
		return nil, err
	}
	if offset+count > len(ids) {
		return nil, &OffsetOutOfRangeError{Variant: v.ShortName, Phase: phase, Offset: offset, Count: count, Affinity: ids}
	}

	out := make([]int, count)
	copy(out, ids[offset:offset+count])
	return out, nil
}

func (p *Pool) affinityFor(phase model.Phase) ([]int, error) {
	if phase == model.PhaseTest && p.machine.UsesAccelerator() {
		ids := make([]int, p.machine.NumTestResources)
		for i := range ids {
			ids[i] = i
		}
		return ids, nil
	}

	ids, err := p.affinity()
	if err != nil {
		return nil, fmt.Errorf("reading CPU affinity: %w", err)
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	return sorted, nil
}
