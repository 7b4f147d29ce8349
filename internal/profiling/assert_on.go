//go:build profsnapdebug

package profiling

const sanityChecks = true
