//go:build !profsnapdebug

package profiling

// sanityChecks enables range assertions on translated addresses.
// Build with -tags profsnapdebug to turn them on.
const sanityChecks = false
