// Package resources partitions a machine's execution units (CPU cores or
// accelerator slots) among the build variants of a run.
//
// Partitioning is static: counts are assigned once, before any variant is
// dispatched, by floor-dividing what is left of each pool by the number of
// variants still to serve. Concrete identifiers are then sliced out of a
// sorted affinity list at an offset equal to the total count of every
// variant scheduled before. Both steps walk the variants in the same fixed
// order, which is what keeps the slices disjoint.
package resources
