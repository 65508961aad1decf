// Package runner drives one build variant through configure, build and test
// (or baseline generation).
//
// A variant moves through init, configuring, building and then testing or
// generating_baselines, ending in done or aborted. Any non-zero exit aborts
// the variant at that phase; later phases never run. Every phase writes its
// combined output to a log file in the variant's build directory, and the log
// of the failing phase becomes the result's excerpt.
//
// Runners for different variants share nothing mutable: directories and logs
// are derived from the variant's long name, and resource identifiers come
// from a pool partitioned before dispatch.
package runner
