// Package dag provides a small directed acyclic graph keyed by string IDs.
//
// It is used to order the evaluation of build options that reference one
// another: an edge from A to B means B needs A's value first. The graph
// rejects self-edges, detects cycles, and produces a topological order in
// which ties are broken by the order nodes were added, so that the same
// configuration always evaluates in the same sequence.
package dag
