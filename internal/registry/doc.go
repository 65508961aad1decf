// Package registry resolves the machine and the build variants of a run from
// the parsed configuration model.
//
// The Registry is the single place where raw definitions become the typed,
// immutable descriptors the rest of the harness works with: defaults are
// applied, required fields are checked, and option values are resolved through
// the substitution interpreter. It is populated once at startup and is
// read-only afterwards.
package registry
