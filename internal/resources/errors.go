package resources

import (
	"fmt"

	"github.com/vk/testprojbuilds/internal/model"
)

// InsufficientResourcesError reports a pool too small to give every variant
// at least one unit in parallel mode. Reduce the number of variants, run
// sequentially, or use a bigger allocation.
type InsufficientResourcesError struct {
	Phase     model.Phase
	Available int
	Variants  int
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("not enough %s resources for a parallel run: %d available, %d variants (run sequentially or request a bigger allocation)",
		e.Phase, e.Available, e.Variants)
}

// OffsetOutOfRangeError reports a slice of identifiers that does not fit in
// the affinity list. It means the resource counts and the affinity list
// disagree, which is a bug upstream of the pool.
type OffsetOutOfRangeError struct {
	Variant  string
	Phase    model.Phase
	Offset   int
	Count    int
	Affinity []int
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("resource offset %d + count %d out of bounds (max=%d) for variant %s, phase %s; affinity: %v",
		e.Offset, e.Count, len(e.Affinity), e.Variant, e.Phase, e.Affinity)
}
